package preflight

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"strings"
	"time"

	"golang.org/x/sys/unix"

	"quizsync/internal/canvas"
	"quizsync/internal/services"
)

const checkTimeout = 15 * time.Second

// CheckToken verifies the API token by resolving its owner.
func CheckToken(ctx context.Context, client *canvas.Client) Result {
	const name = "Canvas token"

	checkCtx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()

	profile, err := client.WhoAmI(checkCtx)
	if err != nil {
		return Result{Name: name, Detail: summarizeAPIError(err)}
	}
	detail := "authenticated"
	if profile.Name != "" {
		detail = fmt.Sprintf("authenticated as %s", profile.Name)
	}
	return Result{Name: name, Passed: true, Detail: detail}
}

// CheckNewQuizzes verifies the course exists and has the New Quizzes engine
// switched on. Quiz creation fails confusingly without it.
func CheckNewQuizzes(ctx context.Context, client *canvas.Client) Result {
	const name = "New Quizzes"

	checkCtx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()

	enabled, err := client.NewQuizzesEnabled(checkCtx)
	if err != nil {
		return Result{Name: name, Detail: summarizeAPIError(err)}
	}
	if !enabled {
		return Result{Name: name, Detail: "feature flag is off for the course"}
	}
	return Result{Name: name, Passed: true, Detail: "enabled for the course"}
}

// CheckNtfyTopic validates the notification topic shape without sending.
func CheckNtfyTopic(topic string) Result {
	const name = "Notifications"

	parsed, err := url.Parse(strings.TrimSpace(topic))
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return Result{Name: name, Detail: "ntfy topic must be an absolute URL"}
	}
	return Result{Name: name, Passed: true, Detail: parsed.Host}
}

// CheckDirectoryAccess verifies that the directory exists and is readable/writable.
func CheckDirectoryAccess(name, path string) Result {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if !info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is not a directory)", path)}
	}
	if err := unix.Access(path, unix.R_OK|unix.W_OK|unix.X_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: insufficient permissions: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (read/write ok)", path)}
}

// summarizeAPIError produces a human-readable summary for Canvas check failures.
func summarizeAPIError(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "check timed out (Canvas unresponsive)"
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "check timed out (Canvas unreachable)"
	}
	if errors.Is(err, services.ErrNotFound) {
		return "course not found (check the course id)"
	}
	if strings.Contains(err.Error(), "http 401") {
		return "auth failed (invalid or expired token)"
	}
	return err.Error()
}
