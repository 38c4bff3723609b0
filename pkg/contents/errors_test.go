package contents

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/s3contents/pkg/objectstore"
)

func TestBulkResult_Err(t *testing.T) {
	res := &BulkResult{}
	res.succeed("p/a")
	assert.NoError(t, res.Err("delete", "dir"))

	var nilResult *BulkResult
	assert.NoError(t, nilResult.Err("delete", "dir"))

	denied := fmt.Errorf("wrapped: %w", objectstore.ErrAccessDenied)
	res.fail("p/b", "b", "delete", denied)
	err := res.Err("delete", "dir")
	require.Error(t, err)

	be, ok := AsBulkError(err)
	require.True(t, ok)
	assert.Equal(t, "delete", be.Op)
	assert.Equal(t, objectstore.KindAccessDenied, be.Result.Failed[0].Kind)
	assert.Equal(t, denied.Error(), be.Result.Failed[0].Message)
	assert.True(t, errors.Is(err, objectstore.ErrAccessDenied))
	assert.False(t, errors.Is(err, objectstore.ErrNotFound))
	assert.Equal(t, `delete "dir": 1 of 2 keys failed; delete p/b: AccessDenied`, err.Error())
}

func TestBulkError_MessageTruncates(t *testing.T) {
	res := &BulkResult{}
	for i := 0; i < 5; i++ {
		res.fail(fmt.Sprintf("k%d", i), "", "copy", objectstore.ErrTransient)
	}
	msg := res.Err("copy", "src").Error()
	assert.Contains(t, msg, "5 of 5 keys failed")
	assert.Contains(t, msg, "copy k2: Transient")
	assert.NotContains(t, msg, "copy k3")
	assert.Contains(t, msg, "and 2 more")
}

func TestSentinelHelpers(t *testing.T) {
	assert.True(t, IsAlreadyExists(alreadyExists("x")))
	assert.True(t, IsContentCorrupt(corrupt("x", "bad %d", 1)))
	assert.True(t, IsInvalidArgument(invalidArgument("bad")))
	assert.False(t, IsInvalidArgument(errors.New("other")))

	_, ok := AsBulkError(errors.New("plain"))
	assert.False(t, ok)
}

func TestParseEntryType(t *testing.T) {
	for _, s := range []string{"", "directory", "file", "notebook"} {
		typ, err := ParseEntryType(s)
		require.NoError(t, err)
		assert.Equal(t, EntryType(s), typ)
	}
	_, err := ParseEntryType("symlink")
	assert.True(t, IsInvalidArgument(err))
}
