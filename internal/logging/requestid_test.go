package logging

import (
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

func TestGenerateRequestID(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 10; i++ {
		id := GenerateRequestID()
		if len(id) != 8 {
			t.Fatalf("request ID %q has length %d, expected 8", id, len(id))
		}
		for _, r := range id {
			if (r < '0' || r > '9') && (r < 'a' || r > 'f') {
				t.Fatalf("request ID %q contains non-hex character %q", id, r)
			}
		}
		seen[id] = true
	}
	if len(seen) < 2 {
		t.Error("generated IDs never varied")
	}
}

func TestGinRequestIDRoundTrip(t *testing.T) {
	c, _ := gin.CreateTestContext(httptest.NewRecorder())

	if got := GetGinRequestID(c); got != "" {
		t.Errorf("GetGinRequestID before set = %q, expected empty", got)
	}
	SetGinRequestID(c, "a1b2c3d4")
	if got := GetGinRequestID(c); got != "a1b2c3d4" {
		t.Errorf("GetGinRequestID = %q, expected a1b2c3d4", got)
	}

	if got := GetGinRequestID(nil); got != "" {
		t.Errorf("GetGinRequestID(nil) = %q, expected empty", got)
	}
	SetGinRequestID(nil, "ignored")
}
