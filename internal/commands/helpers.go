package commands

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/vitaminmoo/esplink/internal/config"
)

// disconnectTimeout bounds the teardown commands run on their way out.
const disconnectTimeout = 5 * time.Second

// disconnect tears the session down on a fresh context so it still runs
// after the command's context was cancelled.
func disconnect(sess Session) {
	ctx, cancel := context.WithTimeout(context.Background(), disconnectTimeout)
	defer cancel()
	if err := sess.Disconnect(ctx); err != nil {
		zap.L().Warn("disconnect failed", zap.Error(err))
	}
}

func describeTarget(t config.Target) string {
	if t.Address != "" {
		return t.Address
	}
	return fmt.Sprintf("%q", t.Name)
}

// ConfirmAction prompts the user to type 'yes' to continue.
// Returns true if confirmed, false otherwise.
func ConfirmAction(in io.Reader, out io.Writer, prompt string) bool {
	fmt.Fprint(out, prompt)

	reader := bufio.NewReader(in)
	confirm, _ := reader.ReadString('\n')
	confirm = strings.TrimSpace(confirm)

	return confirm == "yes"
}
