package response

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

func init() { gin.SetMode(gin.TestMode) }

func TestFailEnvelope(t *testing.T) {
	r := gin.New()
	r.Use(RequestIDMiddleware())
	r.GET("/x", func(c *gin.Context) { Fail(c, http.StatusConflict, ErrSessionFinished) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))

	if w.Code != http.StatusConflict {
		t.Fatalf("status = %d", w.Code)
	}
	var body Response
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body.Error == nil || body.Error.Code != ErrSessionFinished || body.Error.Message != GetMessage(ErrSessionFinished) {
		t.Fatalf("error = %+v", body.Error)
	}
	if body.Metadata.RequestID != w.Header().Get("X-Request-ID") {
		t.Fatalf("request id %q vs header %q", body.Metadata.RequestID, w.Header().Get("X-Request-ID"))
	}
}

func TestRequestIDMiddlewareKeepsOnlyUUIDs(t *testing.T) {
	r := gin.New()
	r.Use(RequestIDMiddleware())
	r.GET("/x", func(c *gin.Context) { c.String(http.StatusOK, RequestID(c)) })

	incoming := uuid.NewString()
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("X-Request-ID", incoming)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Body.String() != incoming {
		t.Fatalf("kept %q, want %q", w.Body.String(), incoming)
	}

	req = httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("X-Request-ID", "<script>")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if _, err := uuid.Parse(w.Body.String()); err != nil {
		t.Fatalf("replacement id %q is not a uuid", w.Body.String())
	}
}

func TestGetMessageUnknownCode(t *testing.T) {
	if GetMessage("NOPE") != "Terjadi kesalahan yang tidak terduga." {
		t.Fatal("unknown code message changed")
	}
}
