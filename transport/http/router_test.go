package http

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/layer-3/zelid/adapters/store"
	"github.com/layer-3/zelid/adapters/tokenizer"
	"github.com/layer-3/zelid/internal/eth"
	"github.com/layer-3/zelid/ports"
	"github.com/layer-3/zelid/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testWallet struct {
	key     *ecdsa.PrivateKey
	address string
}

func newTestWallet(t *testing.T) testWallet {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	return testWallet{key: key, address: crypto.PubkeyToAddress(key.PublicKey).Hex()}
}

type testServer struct {
	auth   *service.AuthService
	router *gin.Engine
	owner  testWallet
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	signKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	owner := newTestWallet(t)
	access, err := service.NewAccessControl(owner.address, nil)
	require.NoError(t, err)

	auth := service.NewAuthService(store.NewMemoryStore(), tokenizer.NewJWTTokenizer(signKey), nil, access, nil, service.Options{})
	t.Cleanup(auth.Shutdown)

	return &testServer{auth: auth, router: SetupRouter(auth, nil), owner: owner}
}

func (s *testServer) do(t *testing.T, method, path, bearer string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func (s *testServer) loginPhrase(t *testing.T) string {
	t.Helper()
	w := s.do(t, http.MethodGet, "/zelid/loginphrase", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var resp phraseResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.Phrase)
	return resp.Phrase
}

func (s *testServer) login(t *testing.T, who testWallet) (phrase, token string) {
	t.Helper()
	phrase = s.loginPhrase(t)
	w := s.do(t, http.MethodPost, "/zelid/verifylogin", "", verifyBody(t, who, phrase))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var resp struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.Token)
	return phrase, resp.Token
}

func verifyBody(t *testing.T, who testWallet, phrase string) verifyLoginRequest {
	t.Helper()
	sig, err := eth.SignPersonal(phrase, who.key)
	require.NoError(t, err)
	return verifyLoginRequest{LoginPhrase: phrase, Zelid: who.address, Signature: sig}
}

func dial(t *testing.T, srv *httptest.Server, phrase string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/zelid/" + phrase
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func closeCode(t *testing.T, conn *websocket.Conn) int {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, _, err := conn.ReadMessage()
	var closeErr *websocket.CloseError
	require.ErrorAs(t, err, &closeErr)
	return closeErr.Code
}

func TestLoginFlowOverWebSocket(t *testing.T) {
	s := newTestServer(t)
	srv := httptest.NewServer(s.router)
	defer srv.Close()

	user := newTestWallet(t)
	phrase := s.loginPhrase(t)

	ws := dial(t, srv, phrase)
	require.Eventually(t, func() bool { return s.auth.Hub().Len() == 1 }, 2*time.Second, 10*time.Millisecond)

	w := s.do(t, http.MethodPost, "/zelid/verifylogin", "", verifyBody(t, user, phrase))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var login struct {
		Token string `json:"token"`
		Zelid string `json:"zelid"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &login))
	assert.Equal(t, user.address, login.Zelid)

	require.NoError(t, ws.SetReadDeadline(time.Now().Add(5*time.Second)))
	var result ports.Result
	require.NoError(t, ws.ReadJSON(&result))
	assert.Equal(t, ports.ResultSuccess, result.Status)
	assert.Equal(t, login.Token, result.Token)
	assert.Equal(t, ports.CloseNormal, closeCode(t, ws))
	assert.Eventually(t, func() bool { return s.auth.Hub().Len() == 0 }, 2*time.Second, 10*time.Millisecond)

	// the pushed token authenticates
	w = s.do(t, http.MethodGet, "/zelid/loggedsessions", result.Token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotContains(t, w.Body.String(), `"token"`)
	var sessions []sessionSummary
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &sessions))
	require.Len(t, sessions, 1)
	assert.Equal(t, phrase, sessions[0].LoginPhrase)
	assert.Equal(t, user.address, sessions[0].Zelid)

	w = s.do(t, http.MethodGet, "/zelid/me", result.Token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"zelid":"`+user.address+`","tier":"user"}`, w.Body.String())

	w = s.do(t, http.MethodPost, "/zelid/logoutcurrentsession", result.Token, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = s.do(t, http.MethodGet, "/zelid/loggedsessions", result.Token, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestSubscribeRejections(t *testing.T) {
	s := newTestServer(t)
	srv := httptest.NewServer(s.router)
	defer srv.Close()

	t.Run("unknown phrase", func(t *testing.T) {
		ws := dial(t, srv, "no-such-phrase")
		assert.Equal(t, ports.CloseNotFound, closeCode(t, ws))
	})

	t.Run("second subscriber", func(t *testing.T) {
		phrase := s.loginPhrase(t)
		first := dial(t, srv, phrase)
		require.Eventually(t, func() bool { return s.auth.Hub().Len() == 1 }, 2*time.Second, 10*time.Millisecond)

		second := dial(t, srv, phrase)
		assert.Equal(t, ports.CloseConflict, closeCode(t, second))

		require.NoError(t, first.Close())
		assert.Eventually(t, func() bool { return s.auth.Hub().Len() == 0 }, 2*time.Second, 10*time.Millisecond)
	})

	t.Run("already verified", func(t *testing.T) {
		phrase, _ := s.login(t, newTestWallet(t))
		ws := dial(t, srv, phrase)
		require.NoError(t, ws.SetReadDeadline(time.Now().Add(5*time.Second)))
		var result ports.Result
		require.NoError(t, ws.ReadJSON(&result))
		assert.Equal(t, ports.Result{Status: ports.ResultExpired}, result)
		assert.Equal(t, ports.CloseExpired, closeCode(t, ws))
	})
}

func TestVerifyLoginStatusCodes(t *testing.T) {
	s := newTestServer(t)
	user := newTestWallet(t)
	other := newTestWallet(t)

	t.Run("missing fields", func(t *testing.T) {
		w := s.do(t, http.MethodPost, "/zelid/verifylogin", "", map[string]string{"loginPhrase": "x"})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("unknown phrase", func(t *testing.T) {
		body := verifyBody(t, user, "1700000000000deadbeef")
		w := s.do(t, http.MethodPost, "/zelid/verifylogin", "", body)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("signed by someone else", func(t *testing.T) {
		phrase := s.loginPhrase(t)
		body := verifyBody(t, other, phrase)
		body.Zelid = user.address
		w := s.do(t, http.MethodPost, "/zelid/verifylogin", "", body)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("verified twice", func(t *testing.T) {
		phrase, _ := s.login(t, user)
		w := s.do(t, http.MethodPost, "/zelid/verifylogin", "", verifyBody(t, user, phrase))
		assert.Equal(t, http.StatusConflict, w.Code)
	})
}

func TestPrivilegedRoutes(t *testing.T) {
	s := newTestServer(t)
	user := newTestWallet(t)
	_, userToken := s.login(t, user)
	_, ownerToken := s.login(t, s.owner)

	owned := []struct {
		method string
		path   string
	}{
		{http.MethodGet, "/zelid/loggedusers"},
		{http.MethodGet, "/zelid/activeloginphrases"},
		{http.MethodPost, "/zelid/logoutallusers"},
	}
	for _, r := range owned {
		assert.Equal(t, http.StatusUnauthorized, s.do(t, r.method, r.path, "", nil).Code, r.path)
		assert.Equal(t, http.StatusForbidden, s.do(t, r.method, r.path, userToken, nil).Code, r.path)
	}

	s.loginPhrase(t)
	w := s.do(t, http.MethodGet, "/zelid/activeloginphrases", ownerToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var phrases []phraseResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &phrases))
	assert.Len(t, phrases, 1)

	w = s.do(t, http.MethodGet, "/zelid/loggedusers", ownerToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var sessions []sessionSummary
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &sessions))
	assert.Len(t, sessions, 2)

	// a user may not revoke another address
	w = s.do(t, http.MethodPost, "/zelid/logoutallsessions", userToken, logoutAllRequest{Zelid: s.owner.address})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = s.do(t, http.MethodPost, "/zelid/logoutallsessions", ownerToken, logoutAllRequest{Zelid: user.address})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, http.StatusUnauthorized, s.do(t, http.MethodGet, "/zelid/me", userToken, nil).Code)

	w = s.do(t, http.MethodPost, "/zelid/logoutallusers", ownerToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, http.StatusUnauthorized, s.do(t, http.MethodGet, "/zelid/me", ownerToken, nil).Code)
}

func TestLogoutSpecificSession(t *testing.T) {
	s := newTestServer(t)
	user := newTestWallet(t)
	phrase, token := s.login(t, user)

	w := s.do(t, http.MethodPost, "/zelid/logoutspecificsession", "", logoutSpecificRequest{LoginPhrase: phrase})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, http.StatusUnauthorized, s.do(t, http.MethodGet, "/zelid/me", token, nil).Code)

	w = s.do(t, http.MethodPost, "/zelid/logoutspecificsession", "", logoutSpecificRequest{LoginPhrase: phrase})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)
	w := s.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}
