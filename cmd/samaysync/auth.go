package main

import (
	"context"
	"errors"
	"fmt"
	"html"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"os/exec"
	"runtime"
	"time"

	"github.com/spf13/cobra"

	"github.com/peteski22/samaysync/internal/app"
	"github.com/peteski22/samaysync/internal/auth"
)

const authTimeout = 5 * time.Minute

// callbackResult is what the loopback server received from the browser.
type callbackResult struct {
	code string
	err  error
}

func newAuthCmd(flags *globalFlags) *cobra.Command {
	var noBrowser bool

	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Sign in through the browser and store tokens",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runAuth(cmd.Context(), cmd.OutOrStdout(), flags, !noBrowser)
		},
	}
	cmd.Flags().BoolVar(&noBrowser, "no-browser", false, "print the authorization URL instead of opening a browser")

	return cmd
}

func newLogoutCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Remove stored tokens",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			settings, err := flags.settings()
			if err != nil {
				return err
			}

			a, err := app.Base(cmd.Context(), settings, app.Options{})
			if err != nil {
				return err
			}
			defer func() { _ = a.Close(cmd.Context()) }()

			if err := a.Auth.Logout(cmd.Context()); err != nil {
				return err
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), "Logged out.")
			return nil
		},
	}
}

// runAuth performs the PKCE authorization-code flow. It starts a loopback
// server on the configured redirect URI, sends the user to the authorization
// page and exchanges the returned code for tokens.
func runAuth(ctx context.Context, w io.Writer, flags *globalFlags, launchBrowser bool) error {
	settings, err := flags.settings()
	if err != nil {
		return err
	}

	a, err := app.Base(ctx, settings, app.Options{})
	if err != nil {
		return err
	}
	defer func() { _ = a.Close(ctx) }()

	pkce, err := auth.NewPKCE()
	if err != nil {
		return fmt.Errorf("generating PKCE verifier: %w", err)
	}
	state, err := auth.NewState()
	if err != nil {
		return fmt.Errorf("generating OAuth state: %w", err)
	}

	results := make(chan callbackResult, 1)

	server, err := startCallbackServer(settings.OAuth.RedirectURI, state, results)
	if err != nil {
		return fmt.Errorf("starting callback server: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	authURL := a.Auth.AuthURL(state, pkce)

	_, _ = fmt.Fprintln(w, "=== Samay Authorization ===")
	_, _ = fmt.Fprintln(w)
	_, _ = fmt.Fprintln(w, "If the browser doesn't open, visit this URL:")
	_, _ = fmt.Fprintln(w, authURL)
	_, _ = fmt.Fprintln(w)

	if launchBrowser {
		if err := openBrowser(authURL); err != nil {
			_, _ = fmt.Fprintf(w, "Could not open browser: %s\n", err)
		}
	}

	_, _ = fmt.Fprintln(w, "Waiting for authorization...")

	var result callbackResult
	select {
	case result = <-results:
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(authTimeout):
		return fmt.Errorf("authorization timed out after %s", authTimeout)
	}
	if result.err != nil {
		return fmt.Errorf("authorization failed: %w", result.err)
	}

	_, _ = fmt.Fprintln(w, "Authorization received, exchanging for tokens...")

	if err := a.Auth.ExchangeCode(ctx, result.code, pkce.Verifier); err != nil {
		return err
	}

	_, _ = fmt.Fprintln(w)
	_, _ = fmt.Fprintln(w, "Authorization successful!")
	_, _ = fmt.Fprintln(w, "You can now run:")
	_, _ = fmt.Fprintln(w, "  samaysync sync --dry-run")

	return nil
}

// browserCommand returns the command and arguments to open a URL on the current OS.
func browserCommand(targetURL string) (string, []string) {
	switch runtime.GOOS {
	case "darwin":
		return "open", []string{targetURL}
	case "windows":
		return "rundll32", []string{"url.dll,FileProtocolHandler", targetURL}
	default:
		return "xdg-open", []string{targetURL}
	}
}

// openBrowser opens the default web browser to the specified URL.
func openBrowser(targetURL string) error {
	name, args := browserCommand(targetURL)
	cmd := exec.Command(name, args...)
	cmd.Stderr = os.Stderr
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout

	return cmd.Start()
}

// callbackListenAddr returns the host:port and path to listen on for redirectURI.
func callbackListenAddr(redirectURI string) (string, string, error) {
	u, err := url.Parse(redirectURI)
	if err != nil {
		return "", "", fmt.Errorf("parsing redirect URI: %w", err)
	}
	if u.Scheme != "http" {
		return "", "", fmt.Errorf("redirect URI must use http, got %q", u.Scheme)
	}
	if u.Port() == "" {
		return "", "", errors.New("redirect URI must include a port")
	}

	path := u.Path
	if path == "" {
		path = "/"
	}
	return u.Host, path, nil
}

// writeCallbackResponse writes an HTML response for the OAuth callback page.
// It escapes the title and message to prevent XSS attacks.
func writeCallbackResponse(w http.ResponseWriter, title string, message string) {
	w.Header().Set("Content-Type", "text/html")
	_, _ = fmt.Fprintf(
		w,
		`<html><body><h1>%s</h1><p>%s</p><p>You can close this window.</p></body></html>`,
		html.EscapeString(title),
		html.EscapeString(message),
	)
}

// callbackHandler delivers the first callback outcome to results. The state
// parameter must match expectedState.
func callbackHandler(expectedState string, results chan<- callbackResult) http.HandlerFunc {
	deliver := func(r callbackResult) {
		select {
		case results <- r:
		default:
		}
	}

	return func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query()
		code := query.Get("code")
		errDesc := query.Get("error_description")
		errMsg := query.Get("error")
		state := query.Get("state")

		if errMsg != "" {
			deliver(callbackResult{err: fmt.Errorf("%s: %s", errMsg, errDesc)})
			writeCallbackResponse(w, "Authorization Failed", fmt.Sprintf("%s: %s", errMsg, errDesc))
			return
		}

		if code == "" {
			deliver(callbackResult{err: errors.New("no authorization code received")})
			writeCallbackResponse(w, "Authorization Failed", "No authorization code received.")
			return
		}

		if state != expectedState {
			deliver(callbackResult{err: errors.New("state mismatch: possible CSRF attack")})
			writeCallbackResponse(w, "Authorization Failed", "State validation failed.")
			return
		}

		deliver(callbackResult{code: code})
		writeCallbackResponse(w, "Authorization Successful", "You can return to the terminal.")
	}
}

// startCallbackServer listens on the redirect URI's address and serves the callback.
func startCallbackServer(redirectURI string, expectedState string, results chan<- callbackResult) (*http.Server, error) {
	addr, path, err := callbackListenAddr(redirectURI)
	if err != nil {
		return nil, err
	}

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("address %s is unavailable: %w", addr, err)
	}

	mux := http.NewServeMux()
	mux.Handle(path, callbackHandler(expectedState, results))

	server := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			select {
			case results <- callbackResult{err: fmt.Errorf("server error: %w", err)}:
			default:
			}
		}
	}()

	return server, nil
}
