package drive

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/endpoints"

	"github.com/drive-in/drive-in-go/internal/tokenfile"
)

// ErrNotLoggedIn is returned when no usable token is available.
var ErrNotLoggedIn = errors.New("drive: not logged in")

// DefaultScopes grants full Drive access, which downloads of files the
// tool did not create require.
var DefaultScopes = []string{"https://www.googleapis.com/auth/drive"}

// OAuthSettings identifies the OAuth client used for login.
type OAuthSettings struct {
	ClientID     string
	ClientSecret string
	Scopes       []string
	// RedirectURI is where the paste flow sends the browser. The browser
	// flow always redirects to its own localhost listener.
	RedirectURI string
}

func (s OAuthSettings) config() *oauth2.Config {
	scopes := s.Scopes
	if len(scopes) == 0 {
		scopes = DefaultScopes
	}

	return &oauth2.Config{
		ClientID:     s.ClientID,
		ClientSecret: s.ClientSecret,
		Scopes:       scopes,
		Endpoint:     endpoints.Google,
	}
}

// callbackPath is the HTTP path the OAuth2 redirect hits on the local server.
const callbackPath = "/"

// shutdownTimeout is how long to wait for the callback server to drain.
const shutdownTimeout = 5 * time.Second

// callbackResult carries the authorization code or error from the callback handler.
type callbackResult struct {
	code string
	err  error
}

// LoginWithBrowser performs the authorization code + PKCE flow:
//  1. Binds a localhost HTTP server on a random port
//  2. Opens the browser at Google's consent page
//  3. Receives the callback with the authorization code
//  4. Exchanges the code for tokens and saves them at tokenPath
//
// If openURL fails, the URL is printed to stderr instead.
//
// ctx must outlive the returned TokenSource, since silent refreshes use it.
func LoginWithBrowser(
	ctx context.Context,
	tokenPath string,
	settings OAuthSettings,
	openURL func(string) error,
	logger *slog.Logger,
) (TokenSource, error) {
	return doAuthCodeLogin(ctx, tokenPath, settings.config(), openURL, logger)
}

// doAuthCodeLogin takes a pre-built oauth2.Config so tests can point it at a
// mock endpoint.
func doAuthCodeLogin(
	ctx context.Context,
	tokenPath string,
	cfg *oauth2.Config,
	openURL func(string) error,
	logger *slog.Logger,
) (TokenSource, error) {
	if cfg.ClientID == "" {
		return nil, &ValidationError{Field: "client id", Reason: "not configured (set auth.client_id)"}
	}

	logger.Info("starting browser auth flow (authorization code + PKCE)",
		slog.String("path", tokenPath),
	)

	resultCh := make(chan callbackResult, 1)
	mux := http.NewServeMux()

	srv, port, err := startCallbackServer(ctx, mux, resultCh, logger)
	if err != nil {
		return nil, err
	}

	defer shutdownCallbackServer(srv, logger)

	cfg.RedirectURL = fmt.Sprintf("http://127.0.0.1:%d", port)

	verifier := oauth2.GenerateVerifier()
	state := uuid.NewString()

	registerCallbackHandler(mux, state, resultCh)

	authURL := cfg.AuthCodeURL(state,
		oauth2.AccessTypeOffline,
		oauth2.S256ChallengeOption(verifier),
	)

	launchBrowser(authURL, openURL, logger)

	code, err := waitForCallback(ctx, resultCh)
	if err != nil {
		return nil, err
	}

	logger.Info("received authorization code, exchanging for token")

	tok, err := cfg.Exchange(ctx, code, oauth2.VerifierOption(verifier))
	if err != nil {
		return nil, fmt.Errorf("drive: token exchange failed: %w", err)
	}

	if err := tokenfile.Save(tokenPath, tok, nil); err != nil {
		return nil, fmt.Errorf("drive: saving token: %w", err)
	}

	logger.Info("browser login successful",
		slog.String("path", tokenPath),
		slog.Time("expiry", tok.Expiry),
	)

	return newTokenBridge(cfg.TokenSource(ctx, tok), tokenPath, tok, nil, logger), nil
}

// startCallbackServer binds to 127.0.0.1:0 and serves mux on it.
func startCallbackServer(
	ctx context.Context,
	mux *http.ServeMux,
	resultCh chan<- callbackResult,
	logger *slog.Logger,
) (*http.Server, int, error) {
	lc := net.ListenConfig{}

	listener, err := lc.Listen(ctx, "tcp", "127.0.0.1:0")
	if err != nil {
		return nil, 0, fmt.Errorf("drive: binding localhost listener: %w", err)
	}

	tcpAddr, ok := listener.Addr().(*net.TCPAddr)
	if !ok {
		listener.Close()
		return nil, 0, fmt.Errorf("drive: listener address is not TCP")
	}

	logger.Info("callback server listening", slog.Int("port", tcpAddr.Port))

	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: shutdownTimeout,
	}

	go func() {
		if serveErr := srv.Serve(listener); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			select {
			case resultCh <- callbackResult{err: fmt.Errorf("drive: callback server error: %w", serveErr)}:
			default:
			}
		}
	}()

	return srv, tcpAddr.Port, nil
}

func registerCallbackHandler(mux *http.ServeMux, state string, resultCh chan<- callbackResult) {
	mux.HandleFunc("GET "+callbackPath, func(w http.ResponseWriter, r *http.Request) {
		handleOAuthCallback(w, r, state, resultCh)
	})
}

// handleOAuthCallback validates the state, extracts the code, and sends the
// result. Only the first result is delivered.
func handleOAuthCallback(w http.ResponseWriter, r *http.Request, state string, resultCh chan<- callbackResult) {
	send := func(res callbackResult) {
		select {
		case resultCh <- res:
		default:
		}
	}

	q := r.URL.Query()

	if q.Get("state") != state {
		http.Error(w, "Invalid state parameter", http.StatusBadRequest)
		send(callbackResult{err: fmt.Errorf("drive: OAuth2 state mismatch (possible CSRF)")})

		return
	}

	if errParam := q.Get("error"); errParam != "" {
		http.Error(w, "Authorization failed: "+errParam, http.StatusBadRequest)
		send(callbackResult{err: fmt.Errorf("drive: authorization failed: %s: %s", errParam, q.Get("error_description"))})

		return
	}

	code := q.Get("code")
	if code == "" {
		http.Error(w, "Missing authorization code", http.StatusBadRequest)
		send(callbackResult{err: fmt.Errorf("drive: callback missing authorization code")})

		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprint(w, "<html><body><h1>Authentication successful</h1>"+
		"<p>You can close this window and return to the terminal.</p></body></html>")
	send(callbackResult{code: code})
}

func shutdownCallbackServer(srv *http.Server, logger *slog.Logger) {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("callback server shutdown error", slog.String("error", err.Error()))
	}
}

// launchBrowser opens authURL, printing it to stderr if that fails.
func launchBrowser(authURL string, openURL func(string) error, logger *slog.Logger) {
	logger.Info("opening browser for authorization")

	if openErr := openURL(authURL); openErr != nil {
		logger.Warn("failed to open browser, printing URL",
			slog.String("error", openErr.Error()),
		)

		fmt.Fprintf(os.Stderr, "Open this URL in your browser:\n%s\n", authURL)
	}
}

func waitForCallback(ctx context.Context, resultCh <-chan callbackResult) (string, error) {
	select {
	case result := <-resultCh:
		if result.err != nil {
			return "", result.err
		}

		return result.code, nil
	case <-ctx.Done():
		return "", fmt.Errorf("drive: browser auth canceled: %w", ctx.Err())
	}
}

// PasteURL builds the implicit-grant consent URL for the paste flow. The
// page the user lands on after consent shows an access token to copy back
// into the terminal. The random state is returned for display.
func PasteURL(settings OAuthSettings) (authURL, state string) {
	cfg := settings.config()
	state = uuid.NewString()

	q := url.Values{}
	q.Set("scope", strings.Join(cfg.Scopes, " "))
	q.Set("include_granted_scopes", "true")
	q.Set("response_type", "token")
	q.Set("state", state)
	q.Set("redirect_uri", settings.RedirectURI)
	q.Set("client_id", settings.ClientID)

	return cfg.Endpoint.AuthURL + "?" + q.Encode(), state
}

// SavePastedToken caches a raw access token obtained through the paste flow.
// Such tokens cannot be refreshed; once expired, log in again.
func SavePastedToken(tokenPath, accessToken string, logger *slog.Logger) (TokenSource, error) {
	if accessToken == "" {
		return nil, &ValidationError{Field: "token", Reason: "empty"}
	}

	tok := &oauth2.Token{AccessToken: accessToken, TokenType: "Bearer"}
	if err := tokenfile.Save(tokenPath, tok, map[string]string{"flow": "paste"}); err != nil {
		return nil, fmt.Errorf("drive: saving token: %w", err)
	}

	logger.Info("pasted token saved", slog.String("path", tokenPath))

	return StaticToken(accessToken), nil
}

// TokenSourceFromPath loads a saved token and returns a TokenSource that
// refreshes it when possible and writes refreshed tokens back to tokenPath.
// Returns ErrNotLoggedIn if no token file exists.
//
// ctx must outlive the returned TokenSource, since silent refreshes use it.
func TokenSourceFromPath(
	ctx context.Context, tokenPath string, settings OAuthSettings, logger *slog.Logger,
) (TokenSource, error) {
	tok, meta, err := tokenfile.Load(tokenPath)
	if err != nil {
		return nil, err
	}

	if tok == nil {
		return nil, ErrNotLoggedIn
	}

	expired := !tok.Expiry.IsZero() && tok.Expiry.Before(time.Now())
	logger.Info("loaded saved token",
		slog.String("path", tokenPath),
		slog.Time("expiry", tok.Expiry),
		slog.Bool("expired", expired),
	)

	if tok.RefreshToken == "" {
		return StaticToken(tok.AccessToken), nil
	}

	src := settings.config().TokenSource(ctx, tok)

	return newTokenBridge(src, tokenPath, tok, meta, logger), nil
}

// CachedClient builds a client from the token saved at tokenPath and pings
// the API with it. A token the API rejects is removed, so the next login
// starts clean; ErrNotLoggedIn is returned in that case.
func CachedClient(
	ctx context.Context,
	cfg Config,
	httpClient *http.Client,
	tokenPath string,
	settings OAuthSettings,
	logger *slog.Logger,
) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}

	ts, err := TokenSourceFromPath(ctx, tokenPath, settings, logger)
	if err != nil {
		return nil, err
	}

	c := NewClient(cfg, httpClient, ts, logger)
	if c.Ping(ctx) {
		return c, nil
	}

	logger.Warn("cached token rejected, removing it", slog.String("path", tokenPath))

	if err := Logout(tokenPath, logger); err != nil {
		return nil, err
	}

	return nil, fmt.Errorf("cached token rejected: %w", ErrNotLoggedIn)
}

// Logout removes the saved token file. A missing file is not an error.
func Logout(tokenPath string, logger *slog.Logger) error {
	removed, err := tokenfile.Remove(tokenPath)
	if err != nil {
		return err
	}

	if !removed {
		logger.Info("logout: no token file to remove (already logged out)",
			slog.String("path", tokenPath),
		)

		return nil
	}

	logger.Info("logout: removed token file", slog.String("path", tokenPath))

	return nil
}

// tokenBridge adapts oauth2.TokenSource to drive.TokenSource and writes a
// refreshed token back to disk the first time it is seen.
type tokenBridge struct {
	src    oauth2.TokenSource
	path   string
	meta   map[string]string
	logger *slog.Logger

	mu   sync.Mutex
	last string
}

func newTokenBridge(
	src oauth2.TokenSource, path string, initial *oauth2.Token, meta map[string]string, logger *slog.Logger,
) *tokenBridge {
	return &tokenBridge{src: src, path: path, meta: meta, logger: logger, last: initial.AccessToken}
}

func (b *tokenBridge) Token() (string, error) {
	t, err := b.src.Token()
	if err != nil {
		b.logger.Warn("token acquisition failed", slog.String("error", err.Error()))
		return "", fmt.Errorf("drive: obtaining token: %w", err)
	}

	b.mu.Lock()
	changed := t.AccessToken != b.last
	b.last = t.AccessToken
	b.mu.Unlock()

	if changed {
		b.persist(t)
	}

	return t.AccessToken, nil
}

func (b *tokenBridge) persist(t *oauth2.Token) {
	if err := tokenfile.Save(b.path, t, b.meta); err != nil {
		b.logger.Warn("failed to persist refreshed token",
			slog.String("path", b.path),
			slog.String("error", err.Error()),
		)

		return
	}

	b.logger.Info("persisted refreshed token",
		slog.String("path", b.path),
		slog.Time("new_expiry", t.Expiry),
	)
}
