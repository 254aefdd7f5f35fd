package envinfo

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/google/uuid"

	"github.com/trackbuf/trackbuf/agent/internal/config"
)

// NotSet is the collector's placeholder for an unknown value.
const NotSet = "(not set)"

const clientIDFile = "client_id"

// Info is the frozen environment snapshot.
type Info struct {
	ClientID         string
	AppName          string
	AppID            string
	AppVersion       string
	AppBuild         string
	UserAgent        string
	Language         string
	ScreenResolution string
}

// FormattedVersion renders "version (build)", or just the version when no
// build is configured.
func (i Info) FormattedVersion() string {
	if i.AppBuild == "" {
		return i.AppVersion
	}
	return fmt.Sprintf("%s (%s)", i.AppVersion, i.AppBuild)
}

// Detect builds an Info from app and the process environment. The client id
// is read from stateDir, or generated and written there on first run. When
// stateDir cannot be written an ephemeral id is used and the error returned
// alongside a usable Info.
func Detect(app config.AppConfig, stateDir string) (Info, error) {
	info := Info{
		AppName:          app.Name,
		AppID:            app.ID,
		AppVersion:       app.Version,
		AppBuild:         app.Build,
		UserAgent:        UserAgent(app.Name, app.Version),
		Language:         Language(os.Getenv),
		ScreenResolution: NotSet,
	}
	if app.ScreenResolution != "" {
		info.ScreenResolution = app.ScreenResolution
	}

	id, err := ClientID(stateDir)
	if err != nil {
		info.ClientID = uuid.NewString()
		return info, err
	}
	info.ClientID = id
	return info, nil
}

// ClientID returns the id stored under dir, creating it if absent.
func ClientID(dir string) (string, error) {
	path := filepath.Join(dir, clientIDFile)

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		id, perr := uuid.Parse(strings.TrimSpace(string(data)))
		if perr == nil {
			return id.String(), nil
		}
		// Unparseable file: replace it.
	case !errors.Is(err, fs.ErrNotExist):
		return "", fmt.Errorf("envinfo: read client id: %w", err)
	}

	id := uuid.NewString()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("envinfo: create state dir: %w", err)
	}
	if err := os.WriteFile(path, []byte(id+"\n"), 0o600); err != nil {
		return "", fmt.Errorf("envinfo: write client id: %w", err)
	}
	return id, nil
}

// UserAgent synthesizes a browser-style user agent for the host app.
func UserAgent(appName, appVersion string) string {
	name := strings.ReplaceAll(strings.TrimSpace(appName), " ", "")
	if name == "" {
		name = "trackbuf"
	}
	return fmt.Sprintf("%s/%s (%s; %s) Go/%s",
		name, appVersion, runtime.GOOS, runtime.GOARCH, strings.TrimPrefix(runtime.Version(), "go"))
}

// Language derives a BCP 47 style tag from the POSIX locale variables,
// checked in LC_ALL, LC_MESSAGES, LANG order. "en_US.UTF-8" becomes "en-US".
// The C and POSIX locales count as unset.
func Language(getenv func(string) string) string {
	for _, key := range []string{"LC_ALL", "LC_MESSAGES", "LANG"} {
		v := getenv(key)
		if v == "" {
			continue
		}
		if i := strings.IndexAny(v, ".@"); i >= 0 {
			v = v[:i]
		}
		if v == "" || v == "C" || v == "POSIX" {
			return NotSet
		}
		return strings.ReplaceAll(v, "_", "-")
	}
	return NotSet
}
