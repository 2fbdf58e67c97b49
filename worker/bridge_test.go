package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/navigatorvzhang/web-chatbot/codec"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// writeWorker writes a shell script standing in for the chat worker and returns a Bridge that runs it.
func writeWorker(t *testing.T, script string, opts ...Option) (*Bridge, string) {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "worker.sh")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+script), 0755))
	opts = append([]Option{
		WithCommand("sh", path),
		WithDir(dir),
		WithLogger(zap.NewNop()),
	}, opts...)
	return New(opts...), dir
}

func TestRunInit(t *testing.T) {
	ctx := context.Background()

	cases := []struct {
		name       string
		script     string
		expProfile string
		expFile    string
		check      func(t *testing.T, err error)
	}{
		{
			name: "log noise before the result",
			script: `echo "loading model..."
echo "warming up"
echo "debug" 1>&2
echo '{"status":"success","profile":{"name":"demo"},"chat_file":"c1"}'
`,
			expProfile: `{"name":"demo"}`,
			expFile:    "c1",
		},
		{
			name:    "init flag is passed",
			script:  `[ "$1" = "--init" ] || exit 3; printf '{"status":"success","chat_file":"c2"}'`,
			expFile: "c2",
		},
		{
			name:   "worker reports an error",
			script: `echo '{"status":"error","message":"OPENAI_API_KEY not set"}'`,
			check: func(t *testing.T, err error) {
				var appErr *codec.ApplicationError
				require.ErrorAs(t, err, &appErr)
				assert.Equal(t, "OPENAI_API_KEY not set", appErr.Body.Message)
			},
		},
		{
			name:   "non-zero exit",
			script: `echo '{"status":"error","message":"boom"}'; echo "Traceback" 1>&2; exit 1`,
			check: func(t *testing.T, err error) {
				var exitErr *ExitError
				require.ErrorAs(t, err, &exitErr)
				assert.Equal(t, 1, exitErr.Code)
				assert.Equal(t, "Traceback", exitErr.Stderr)
			},
		},
		{
			name:   "last line is not JSON",
			script: `echo '{"status":"success"}'; echo "bye"`,
			check: func(t *testing.T, err error) {
				var decErr *codec.DecodeError
				require.ErrorAs(t, err, &decErr)
				assert.Equal(t, codec.LastLineStructured, decErr.Mode)
				assert.Equal(t, "bye", decErr.RawSample)
			},
		},
		{
			name:   "no output",
			script: `exit 0`,
			check: func(t *testing.T, err error) {
				assert.ErrorIs(t, err, codec.ErrNoRecord)
			},
		},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			b, _ := writeWorker(t, c.script)
			res, err := b.RunInit(ctx)
			if c.check != nil {
				require.Error(t, err)
				c.check(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, codec.StatusSuccess, res.Status)
			assert.Equal(t, c.expFile, res.ChatFile)
			if c.expProfile != "" {
				assert.JSONEq(t, c.expProfile, string(res.Profile))
			}
		})
	}
}

func TestRunChatTurn(t *testing.T) {
	ctx := context.Background()
	convCtx := json.RawMessage(`{"messages":[{"role":"system","content":"Using profile: {}"}],"chat_file":"c1"}`)

	t.Run("argument input is forwarded", func(t *testing.T) {
		b, dir := writeWorker(t, `[ "$1" = "--chat" ] || exit 3
printf '%s' "$2" > received.json
echo "thinking" 1>&2
echo '{"response":"hello!","context":{"messages":[],"chat_file":"c1"}}'
`)
		reply, err := b.RunChatTurn(ctx, "hi", convCtx)
		require.NoError(t, err)
		assert.Equal(t, "hello!", reply.Response)
		assert.JSONEq(t, `{"messages":[],"chat_file":"c1"}`, string(reply.Context))

		received, err := os.ReadFile(filepath.Join(dir, "received.json"))
		require.NoError(t, err)
		var req codec.ChatRequest
		require.NoError(t, json.Unmarshal(received, &req))
		assert.Equal(t, "hi", req.Message)
		assert.Equal(t, string(convCtx), string(req.Context))
	})

	t.Run("stdin input is forwarded", func(t *testing.T) {
		b, dir := writeWorker(t, `[ "$#" = "1" ] || exit 3
read line
printf '%s' "$line" > received.json
echo '{"response":"ok","context":{}}'
`, WithInputStyle(codec.InputStdin))
		reply, err := b.RunChatTurn(ctx, "hi", nil)
		require.NoError(t, err)
		assert.Equal(t, "ok", reply.Response)

		received, err := os.ReadFile(filepath.Join(dir, "received.json"))
		require.NoError(t, err)
		assert.Equal(t, `{"message":"hi","context":null}`, string(received))
	})

	t.Run("empty message never spawns a worker", func(t *testing.T) {
		b, dir := writeWorker(t, `touch spawned; echo '{"response":"ok"}'`)
		for _, msg := range []string{"", "  "} {
			_, err := b.RunChatTurn(ctx, msg, convCtx)
			assert.ErrorIs(t, err, codec.ErrEmptyMessage)
		}
		_, err := os.Stat(filepath.Join(dir, "spawned"))
		assert.True(t, os.IsNotExist(err))
	})

	t.Run("exit 1 with no output", func(t *testing.T) {
		b, _ := writeWorker(t, `exit 1`)
		_, err := b.RunChatTurn(ctx, "hi", convCtx)
		var exitErr *ExitError
		require.ErrorAs(t, err, &exitErr)
		assert.Equal(t, 1, exitErr.Code)
	})

	t.Run("clean exit with no output", func(t *testing.T) {
		b, _ := writeWorker(t, `exit 0`)
		_, err := b.RunChatTurn(ctx, "hi", convCtx)
		var emptyErr *EmptyResponseError
		require.ErrorAs(t, err, &emptyErr)
	})

	t.Run("unparseable output", func(t *testing.T) {
		b, _ := writeWorker(t, `echo "not json"`)
		_, err := b.RunChatTurn(ctx, "hi", convCtx)
		var decErr *codec.DecodeError
		require.ErrorAs(t, err, &decErr)
		assert.Equal(t, codec.Structured, decErr.Mode)
	})

	t.Run("records without the shape of a reply", func(t *testing.T) {
		for _, record := range []string{`null`, `{}`, `{"unexpected":1}`, `[1,2]`, `{"response":"hi"}`, `{"response":1,"context":{}}`} {
			b, _ := writeWorker(t, fmt.Sprintf("echo '%s'", record))
			reply, err := b.RunChatTurn(ctx, "hi", convCtx)
			assert.Nil(t, reply, record)
			var decErr *codec.DecodeError
			require.ErrorAs(t, err, &decErr, record)
			assert.ErrorIs(t, err, codec.ErrMalformedReply, record)
		}
	})

	t.Run("worker error payload", func(t *testing.T) {
		b, _ := writeWorker(t, `echo '{"response":null,"error":{"message":"rate limited","type":"RateLimitError","timestamp":"2024-01-01T00:00:00"}}'`)
		_, err := b.RunChatTurn(ctx, "hi", convCtx)
		var appErr *codec.ApplicationError
		require.ErrorAs(t, err, &appErr)
		assert.Equal(t, "rate limited", appErr.Body.Message)
		assert.Equal(t, "RateLimitError", appErr.Body.Type)
	})

	t.Run("missing executable", func(t *testing.T) {
		b := New(WithCommand(filepath.Join(t.TempDir(), "no-such-interpreter")), WithLogger(zap.NewNop()))
		_, err := b.RunChatTurn(ctx, "hi", convCtx)
		var launchErr *LaunchError
		require.ErrorAs(t, err, &launchErr)
	})
}

func TestWorkerEnv(t *testing.T) {
	script := `printf '{"response":"%s %s","context":{}}\n' "${PYTHON_SHELL-unset}" "${FOO-unset}"`
	cases := []struct {
		name   string
		opts   []Option
		expEnv string
	}{
		{name: "default", expEnv: "1 unset"},
		{name: "replaced", opts: []Option{WithEnv("FOO=bar")}, expEnv: "unset bar"},
		{name: "replacement keeps PYTHON_SHELL", opts: []Option{WithEnv("PYTHON_SHELL=1", "FOO=bar")}, expEnv: "1 bar"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			b, _ := writeWorker(t, script, c.opts...)
			reply, err := b.RunChatTurn(context.Background(), "hi", nil)
			require.NoError(t, err)
			assert.Equal(t, c.expEnv, reply.Response)
		})
	}
}

func TestTimeoutKillsWorker(t *testing.T) {
	b, _ := writeWorker(t, `exec sleep 30`, WithTimeout(100*time.Millisecond))

	start := time.Now()
	_, err := b.RunChatTurn(context.Background(), "hi", nil)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 10*time.Second)
}

func TestCallerCancellationKillsWorker(t *testing.T) {
	b, _ := writeWorker(t, `exec sleep 30`, WithTimeout(0))

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(100*time.Millisecond, cancel)

	start := time.Now()
	_, err := b.RunInit(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), 10*time.Second)
}

func TestInvocationClose(t *testing.T) {
	inv, err := start(context.Background(), zap.NewNop().Sugar(), startRequest{Command: "sleep", Args: []string{"30"}})
	require.NoError(t, err)

	inv.Close()
	select {
	case <-inv.exited:
	default:
		t.Fatal("process was not reaped by Close")
	}
	// idempotent
	inv.Close()
}

func TestConcurrentInvocationsAreIsolated(t *testing.T) {
	b, _ := writeWorker(t, `printf '{"response":"pid %s","context":{}}\n' $$`)

	var (
		mut       sync.Mutex
		responses = map[string]bool{}
	)
	group, groupCtx := errgroup.WithContext(context.Background())
	for i := 0; i < 8; i++ {
		i := i
		group.Go(func() error {
			reply, err := b.RunChatTurn(groupCtx, fmt.Sprintf("message %d", i), nil)
			if err != nil {
				return err
			}
			mut.Lock()
			responses[reply.Response] = true
			mut.Unlock()
			return nil
		})
	}
	require.NoError(t, group.Wait())
	assert.Len(t, responses, 8)
}
