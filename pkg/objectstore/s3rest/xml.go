package s3rest

import (
	"bytes"
	"encoding/xml"
	"time"
)

type listBucketResult struct {
	IsTruncated           bool   `xml:"IsTruncated"`
	NextContinuationToken string `xml:"NextContinuationToken"`
	KeyCount              int    `xml:"KeyCount"`
	Contents              []struct {
		Key          string    `xml:"Key"`
		LastModified time.Time `xml:"LastModified"`
		ETag         string    `xml:"ETag"`
		Size         int64     `xml:"Size"`
	} `xml:"Contents"`
	CommonPrefixes []struct {
		Prefix string `xml:"Prefix"`
	} `xml:"CommonPrefixes"`
}

func parseListResult(body []byte) (*listBucketResult, error) {
	var out listBucketResult
	if err := xml.Unmarshal(body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

type errorDocument struct {
	XMLName xml.Name
	Code    string `xml:"Code"`
	Message string `xml:"Message"`
}

// parseErrorDocument returns the code and message of an S3 <Error> document.
// Bodies that are empty or not an <Error> document yield empty strings.
func parseErrorDocument(body []byte) (code, message string) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || !bytes.Contains(trimmed, []byte("<Error")) {
		return "", ""
	}
	var doc errorDocument
	if err := xml.Unmarshal(trimmed, &doc); err != nil || doc.XMLName.Local != "Error" {
		return "", ""
	}
	return doc.Code, doc.Message
}
