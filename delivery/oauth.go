package delivery

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/option"

	"github.com/aluiziolira/go-grab-ebooks/config"
)

// DriveClient loads the OAuth client secret and the cached user token and
// returns the client option for NewDriveUploader. Without a cached token the
// consent URL is written to out and the authorisation code read from in.
func DriveClient(ctx context.Context, cfg config.DriveConfig, in io.Reader, out io.Writer) (option.ClientOption, error) {
	secret, err := os.ReadFile(cfg.ClientSecretPath)
	if err != nil {
		return nil, fmt.Errorf("read client secret: %w", err)
	}
	oc, err := google.ConfigFromJSON(secret, drive.DriveScope)
	if err != nil {
		return nil, fmt.Errorf("parse client secret: %w", err)
	}

	tok, err := authorize(ctx, oc, TokenPath(cfg), in, out)
	if err != nil {
		return nil, err
	}
	return option.WithHTTPClient(oc.Client(ctx, tok)), nil
}

// TokenPath is where the user token for cfg.AppName is cached.
func TokenPath(cfg config.DriveConfig) string {
	return filepath.Join(cfg.TokenDir, cfg.AppName+".json")
}

func authorize(ctx context.Context, oc *oauth2.Config, tokenPath string, in io.Reader, out io.Writer) (*oauth2.Token, error) {
	if tok, err := loadToken(tokenPath); err == nil {
		return tok, nil
	}

	url := oc.AuthCodeURL("state-token", oauth2.AccessTypeOffline)
	fmt.Fprintf(out, "Go to the following link in your browser, then type the authorization code:\n%s\n", url)

	var code string
	if _, err := fmt.Fscan(in, &code); err != nil {
		return nil, fmt.Errorf("read authorization code: %w", err)
	}
	tok, err := oc.Exchange(ctx, strings.TrimSpace(code))
	if err != nil {
		return nil, fmt.Errorf("exchange authorization code: %w", err)
	}
	if err := saveToken(tokenPath, tok); err != nil {
		return nil, err
	}
	fmt.Fprintf(out, "Storing credentials to %s\n", tokenPath)
	return tok, nil
}

func loadToken(path string) (*oauth2.Token, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	tok := &oauth2.Token{}
	if err := json.NewDecoder(f).Decode(tok); err != nil {
		return nil, fmt.Errorf("decode token %s: %w", path, err)
	}
	return tok, nil
}

func saveToken(path string, tok *oauth2.Token) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create token dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("cache token: %w", err)
	}
	defer f.Close()
	return json.NewEncoder(f).Encode(tok)
}
