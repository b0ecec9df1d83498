package cli_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/talk2sql/pkg/cli"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "talk2sql.yaml")
	gt.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func runOK(t *testing.T, args ...string) {
	t.Helper()
	if err := cli.Run(context.Background(), args); err != nil {
		t.Fatalf("unexpected error: %s", err.Message)
	}
}

func TestRunMemoryList(t *testing.T) {
	runOK(t, "talk2sql", "memory", "list",
		"--llm", "openai", "--openai-api-key", "test-key", "--memory", "memory")
}

func TestRunConfigFile(t *testing.T) {
	t.Run("values fill unset flags", func(t *testing.T) {
		path := writeConfig(t, "llm: openai\nopenai-api-key: test-key\nmemory: memory\n")
		runOK(t, "talk2sql", "--config", path, "memory", "list")
	})

	t.Run("command line wins over the file", func(t *testing.T) {
		path := writeConfig(t, "llm: openai\nopenai-api-key: test-key\nmemory: memory\n")
		err := cli.Run(context.Background(), []string{
			"talk2sql", "--config", path, "memory", "list", "--memory", "nosuch",
		})
		gt.V(t, err).NotNil()
		gt.Equal(t, err.Code, 1)
		gt.S(t, err.Message).Contains("unknown memory backend")
	})

	t.Run("invalid value", func(t *testing.T) {
		path := writeConfig(t, "llm: openai\nopenai-api-key: test-key\nmemory: memory\nn-results: many\n")
		err := cli.Run(context.Background(), []string{"talk2sql", "--config", path, "memory", "list"})
		gt.V(t, err).NotNil()
		gt.S(t, err.Message).Contains("invalid value in config file")
	})

	t.Run("missing file", func(t *testing.T) {
		err := cli.Run(context.Background(), []string{
			"talk2sql", "--config", filepath.Join(t.TempDir(), "none.yaml"), "memory", "list",
		})
		gt.V(t, err).NotNil()
		gt.S(t, err.Message).Contains("failed to read config file")
	})
}

func TestRunErrors(t *testing.T) {
	testCases := map[string]struct {
		args []string
		msg  string
	}{
		"ask without question": {
			args: []string{"talk2sql", "ask"},
			msg:  "question is required",
		},
		"unknown provider": {
			args: []string{"talk2sql", "memory", "list", "--llm", "nosuch", "--memory", "memory"},
			msg:  "unknown embedding provider",
		},
		"invalid log level": {
			args: []string{"talk2sql", "--log-level", "loud", "memory", "list"},
			msg:  "invalid log level",
		},
		"train without input": {
			args: []string{"talk2sql", "train", "--llm", "openai", "--openai-api-key", "test-key", "--memory", "memory"},
			msg:  "nothing to train",
		},
		"exclusive history filters": {
			args: []string{"talk2sql", "history", "list", "--success-only", "--errors-only"},
			msg:  "exclusive",
		},
	}

	for name, tc := range testCases {
		t.Run(name, func(t *testing.T) {
			err := cli.Run(context.Background(), tc.args)
			gt.V(t, err).NotNil()
			gt.Equal(t, err.Code, 1)
			gt.S(t, err.Message).Contains(tc.msg)
		})
	}
}

func TestRunHistory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")

	runOK(t, "talk2sql", "history", "list", "--history-path", path)
	runOK(t, "talk2sql", "history", "list", "--history-path", path, "--json", "--errors-only")
	runOK(t, "talk2sql", "history", "analyze", "--history-path", path)
}
