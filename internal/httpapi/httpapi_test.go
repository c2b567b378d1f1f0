package httpapi

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"golang.org/x/crypto/ssh"

	"termproxy/internal/admin"
	"termproxy/internal/session"
)

func newTestServer() *Server {
	return &Server{
		Facade: &admin.Facade{
			Engine:               session.NewEngine(0, time.Hour),
			DefaultCols:          80,
			DefaultRows:          24,
			DefaultTerm:          "xterm-256color",
			DefaultIdleTimeoutMs: 60_000,
			ConnectTimeout:       300 * time.Millisecond,
		},
		AllowedOrigins: []string{"*"},
		StartedAt:      time.Now(),
	}
}

// testSSHServer starts an in-process SSH server accepting user/pass, used to
// exercise the REST surface against a real Create without a live SSH host.
func testSSHServer(t *testing.T, user, pass string) (host string, port int) {
	t.Helper()

	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate host key: %v", err)
	}
	signer, err := ssh.NewSignerFromKey(priv)
	if err != nil {
		t.Fatalf("signer: %v", err)
	}

	config := &ssh.ServerConfig{
		PasswordCallback: func(conn ssh.ConnMetadata, password []byte) (*ssh.Permissions, error) {
			if conn.User() == user && string(password) == pass {
				return &ssh.Permissions{}, nil
			}
			return nil, fmt.Errorf("invalid credentials")
		},
	}
	config.AddHostKey(signer)

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { listener.Close() })

	go func() {
		for {
			netConn, err := listener.Accept()
			if err != nil {
				return
			}
			go func() {
				sshConn, chans, reqs, err := ssh.NewServerConn(netConn, config)
				if err != nil {
					netConn.Close()
					return
				}
				defer sshConn.Close()
				go ssh.DiscardRequests(reqs)
				for newChan := range chans {
					if newChan.ChannelType() != "session" {
						newChan.Reject(ssh.UnknownChannelType, "unknown channel type")
						continue
					}
					ch, requests, err := newChan.Accept()
					if err != nil {
						continue
					}
					go func() {
						defer ch.Close()
						for req := range requests {
							switch req.Type {
							case "pty-req", "shell":
								if req.WantReply {
									req.Reply(true, nil)
								}
							default:
								if req.WantReply {
									req.Reply(false, nil)
								}
							}
						}
					}()
				}
			}()
		}
	}()

	addr := listener.Addr().(*net.TCPAddr)
	return "127.0.0.1", addr.Port
}

func TestHealthz(t *testing.T) {
	s := newTestServer()
	router := NewRouter(s, "")

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["ok"] != true {
		t.Fatalf("body = %v", body)
	}
}

func TestCreateValidationError(t *testing.T) {
	s := newTestServer()
	router := NewRouter(s, "")

	req := httptest.NewRequest(http.MethodPost, "/connections", bytes.NewReader([]byte(`{}`)))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestDeleteUnknownIsNotFound(t *testing.T) {
	s := newTestServer()
	router := NewRouter(s, "")

	req := httptest.NewRequest(http.MethodDelete, "/connections/missing", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestListEmpty(t *testing.T) {
	s := newTestServer()
	router := NewRouter(s, "")

	req := httptest.NewRequest(http.MethodGet, "/connections", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body struct {
		Sessions []interface{} `json:"sessions"`
	}
	json.Unmarshal(rec.Body.Bytes(), &body)
	if len(body.Sessions) != 0 {
		t.Fatalf("expected empty sessions, got %d", len(body.Sessions))
	}
}

func TestCORSPreflight(t *testing.T) {
	s := newTestServer()
	router := NewRouter(s, "")

	req := httptest.NewRequest(http.MethodOptions, "/connections", nil)
	req.Header.Set("Origin", "https://example.com")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", rec.Code)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "https://example.com" {
		t.Fatalf("missing CORS origin header: %v", rec.Header())
	}
	if rec.Header().Get("Access-Control-Allow-Credentials") != "true" {
		t.Fatalf("missing CORS credentials header: %v", rec.Header())
	}
	if rec.Header().Get("Access-Control-Allow-Headers") != "content-type, authorization" {
		t.Fatalf("unexpected CORS headers header: %v", rec.Header())
	}
}

func TestCreateDefaultsPortTo22(t *testing.T) {
	s := newTestServer()
	router := NewRouter(s, "")

	body := `{"host":"127.0.0.1","port":1,"username":"tester","password":"wrong"}`
	req := httptest.NewRequest(http.MethodPost, "/connections", bytes.NewReader([]byte(body)))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	// Nothing listens on port 1, so creation still fails, but it must fail
	// as a connect error (omitted port must default to 22, not be rejected
	// as missing); a 400 here would mean the explicit port wasn't reaching
	// the dial at all. Re-run omitting port entirely and assert the same
	// non-400 outcome.
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d with explicit port 1, want 500 connect error", rec.Code)
	}
	bodyNoPort := `{"host":"127.0.0.1","username":"tester","password":"wrong"}`
	req2 := httptest.NewRequest(http.MethodPost, "/connections", bytes.NewReader([]byte(bodyNoPort)))
	rec2 := httptest.NewRecorder()
	router.ServeHTTP(rec2, req2)

	if rec2.Code == http.StatusBadRequest {
		t.Fatalf("status = 400, want missing port to default to 22 rather than be rejected")
	}
}

func TestCreateSucceedsWithWSPathDeleteAndResize(t *testing.T) {
	host, port := testSSHServer(t, "tester", "secret")
	s := newTestServer()
	router := NewRouter(s, "/api")

	body := fmt.Sprintf(`{"host":%q,"port":%d,"username":"tester","password":"secret"}`, host, port)
	req := httptest.NewRequest(http.MethodPost, "/api/connections", bytes.NewReader([]byte(body)))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d, body=%s", rec.Code, rec.Body.String())
	}
	var created struct {
		ID     string `json:"id"`
		WSPath string `json:"wsPath"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode create response: %v", err)
	}
	if created.WSPath != "/api/ws/"+created.ID {
		t.Fatalf("wsPath = %q, want /api/ws/%s", created.WSPath, created.ID)
	}

	resizeReq := httptest.NewRequest(http.MethodPost, "/api/connections/"+created.ID+"/resize", bytes.NewReader([]byte(`{"cols":100,"rows":40}`)))
	resizeRec := httptest.NewRecorder()
	router.ServeHTTP(resizeRec, resizeReq)
	if resizeRec.Code != http.StatusOK {
		t.Fatalf("resize status = %d, want 200", resizeRec.Code)
	}
	var resizeBody struct {
		OK   bool `json:"ok"`
		Cols int  `json:"cols"`
		Rows int  `json:"rows"`
	}
	json.Unmarshal(resizeRec.Body.Bytes(), &resizeBody)
	if !resizeBody.OK || resizeBody.Cols != 100 || resizeBody.Rows != 40 {
		t.Fatalf("resize body = %+v", resizeBody)
	}

	deleteReq := httptest.NewRequest(http.MethodDelete, "/api/connections/"+created.ID, nil)
	deleteRec := httptest.NewRecorder()
	router.ServeHTTP(deleteRec, deleteReq)
	if deleteRec.Code != http.StatusOK {
		t.Fatalf("delete status = %d, want 200", deleteRec.Code)
	}
	var deleteBody struct {
		OK bool `json:"ok"`
	}
	json.Unmarshal(deleteRec.Body.Bytes(), &deleteBody)
	if !deleteBody.OK {
		t.Fatalf("delete body = %+v", deleteBody)
	}
}

func TestResizeRejectsNonPositiveDims(t *testing.T) {
	s := newTestServer()
	router := NewRouter(s, "")

	req := httptest.NewRequest(http.MethodPost, "/connections/missing/resize", bytes.NewReader([]byte(`{"cols":0,"rows":24}`)))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestBasePathMount(t *testing.T) {
	s := newTestServer()
	router := NewRouter(s, "/api")

	req := httptest.NewRequest(http.MethodGet, "/api/healthz", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d under base path", rec.Code)
	}
}
