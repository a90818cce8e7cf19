package skillstore

import "testing"

func TestBucketRefFields(t *testing.T) {
	r := BucketRef{
		URI:      "skillvault://apitap-skills/shop.example.com.json",
		Checksum: "sha256:deadbeef",
		Size:     42,
	}
	if r.URI == "" || r.Checksum == "" || r.Size != 42 {
		t.Fatal("ref fields not set")
	}
}
