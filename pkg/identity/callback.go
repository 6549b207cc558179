package identity

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/aspirely/aspirely-cli/pkg/config"
	"github.com/aspirely/aspirely-cli/pkg/logger"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

// CallbackResult carries the session handed back by the browser sign-in.
type CallbackResult struct {
	SessionID   string `json:"session_id" form:"session_id" binding:"required"`
	ClientToken string `json:"client_token" form:"client_token" binding:"required"`
	UserID      string `json:"user_id" form:"user_id" binding:"required"`
	State       string `json:"state" form:"state" binding:"required"`
}

const callbackPage = `<!doctype html><html><body style="font-family:sans-serif">
<h2>Signed in to Aspirely</h2><p>You can close this window and return to your terminal.</p>
</body></html>`

// CallbackServer receives the browser sign-in result on loopback.
type CallbackServer struct {
	state    string
	listener net.Listener
	srv      *http.Server

	once   sync.Once
	result chan CallbackResult
}

// NewCallbackServer listens on 127.0.0.1:port; port 0 picks a free port.
func NewCallbackServer(port int) (*CallbackServer, error) {
	state, err := randomState()
	if err != nil {
		return nil, err
	}

	ln, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	if err != nil {
		return nil, fmt.Errorf("listen for sign-in callback: %w", err)
	}

	cs := &CallbackServer{
		state:    state,
		listener: ln,
		result:   make(chan CallbackResult, 1),
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware("aspirely-cli-callback"))
	if mw := callbackCORS(config.GetString("app.url")); mw != nil {
		router.Use(mw)
	}
	router.GET("/callback", cs.handle)
	router.POST("/callback", cs.handle)

	cs.srv = &http.Server{
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := cs.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Sign-in callback server stopped", "error", err)
		}
	}()

	return cs, nil
}

// callbackCORS lets the sign-in page POST the result from the app origin.
func callbackCORS(appURL string) gin.HandlerFunc {
	u, err := url.Parse(appURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil
	}
	cfg := cors.DefaultConfig()
	cfg.AllowOrigins = []string{u.Scheme + "://" + u.Host}
	cfg.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	cfg.AllowHeaders = []string{"Origin", "Content-Length", "Content-Type"}
	return cors.New(cfg)
}

func randomState() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate state: %w", err)
	}
	return hex.EncodeToString(b), nil
}

func (cs *CallbackServer) handle(c *gin.Context) {
	var res CallbackResult
	if err := c.ShouldBind(&res); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing session parameters"})
		return
	}
	if subtle.ConstantTimeCompare([]byte(res.State), []byte(cs.state)) != 1 {
		c.JSON(http.StatusForbidden, gin.H{"error": "state mismatch"})
		return
	}

	cs.once.Do(func() { cs.result <- res })
	c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(callbackPage))
}

// RedirectURL is the loopback URL the sign-in page should return to.
func (cs *CallbackServer) RedirectURL() string {
	return "http://" + cs.listener.Addr().String() + "/callback"
}

// State is the anti-forgery value the sign-in page must echo back.
func (cs *CallbackServer) State() string {
	return cs.state
}

// LoginURL builds the browser sign-in URL under appURL.
func (cs *CallbackServer) LoginURL(appURL string) string {
	q := url.Values{}
	q.Set("redirect_url", cs.RedirectURL())
	q.Set("state", cs.state)
	return appURL + "/cli-login?" + q.Encode()
}

// Wait blocks until a valid callback arrives or ctx ends.
func (cs *CallbackServer) Wait(ctx context.Context) (*CallbackResult, error) {
	select {
	case res := <-cs.result:
		return &res, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close stops the server.
func (cs *CallbackServer) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return cs.srv.Shutdown(ctx)
}
