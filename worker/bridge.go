package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/navigatorvzhang/web-chatbot/codec"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	DefaultCommand = "python3"
	DefaultTimeout = 2 * time.Minute
)

var DefaultArgs = []string{"-u", "chatbot.py"}

// Bridge runs one worker invocation per logical operation.
// A Bridge holds only configuration and is safe for concurrent use.
type Bridge struct {
	log *zap.SugaredLogger

	command    string
	args       []string
	env        []string
	dir        string
	inputStyle codec.InputStyle
	timeout    time.Duration
}

type Option func(b *Bridge)

// WithCommand sets the worker executable and the arguments that precede the mode flag.
func WithCommand(command string, args ...string) Option {
	return func(b *Bridge) {
		b.command = command
		b.args = args
	}
}

// WithEnv sets the variables added to the inherited environment, replacing the default PYTHON_SHELL=1.
func WithEnv(env ...string) Option {
	return func(b *Bridge) {
		b.env = env
	}
}

func WithDir(dir string) Option {
	return func(b *Bridge) {
		b.dir = dir
	}
}

func WithInputStyle(s codec.InputStyle) Option {
	return func(b *Bridge) {
		b.inputStyle = s
	}
}

// WithTimeout bounds each invocation. Zero disables the bound.
func WithTimeout(d time.Duration) Option {
	return func(b *Bridge) {
		b.timeout = d
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(b *Bridge) {
		b.log = l.Named("worker").Sugar()
	}
}

func WithLogLevel(l zapcore.Level) Option {
	return func(b *Bridge) {
		b.log = b.log.WithOptions(zap.IncreaseLevel(l))
	}
}

func New(opts ...Option) *Bridge {
	b := &Bridge{
		log:     zap.NewNop().Sugar(),
		command: DefaultCommand,
		args:    DefaultArgs,
		env:     []string{"PYTHON_SHELL=1"},
		timeout: DefaultTimeout,
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

func (b *Bridge) run(ctx context.Context, req codec.Request, mode codec.DecodeMode, out any) error {
	enc, err := codec.EncodeRequest(req, b.inputStyle)
	if err != nil {
		return err
	}

	if b.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.timeout)
		defer cancel()
	}

	args := append(append([]string{}, b.args...), enc.Args...)
	inv, err := start(ctx, b.log, startRequest{
		Command: b.command,
		Args:    args,
		Env:     b.env,
		Dir:     b.dir,
		Stdin:   enc.Stdin,
		Mode:    mode,
	})
	if err != nil {
		return err
	}
	defer inv.Close()

	err = inv.Wait(ctx)
	if err != nil {
		return err
	}

	lines := inv.Lines()
	if req.Kind == codec.KindChat && !hasOutput(lines) {
		return &EmptyResponseError{}
	}
	return codec.DecodeWorkerOutput(mode, lines, out)
}

// RunInit runs the worker in initialization mode and decodes the last line of its output.
func (b *Bridge) RunInit(ctx context.Context) (*codec.InitResult, error) {
	var res codec.InitResult
	err := b.run(ctx, codec.Request{Kind: codec.KindInit}, codec.LastLineStructured, &res)
	if err != nil {
		return nil, fmt.Errorf("running init: %w", err)
	}
	if err := res.AppError(); err != nil {
		return nil, err
	}
	return &res, nil
}

// RunChatTurn runs the worker for one chat turn. convCtx is forwarded to the worker untouched.
func (b *Bridge) RunChatTurn(ctx context.Context, message string, convCtx json.RawMessage) (*codec.ChatReply, error) {
	var raw json.RawMessage
	req := codec.Request{Kind: codec.KindChat, Message: message, Context: convCtx}
	err := b.run(ctx, req, codec.Structured, &raw)
	if err != nil {
		return nil, fmt.Errorf("running chat turn: %w", err)
	}
	var reply codec.ChatReply
	err = codec.UnmarshalChatReply(raw, &reply)
	if err != nil {
		return nil, fmt.Errorf("running chat turn: %w",
			&codec.DecodeError{Mode: codec.Structured, RawSample: codec.Sample(string(raw)), Err: err})
	}
	if err := reply.AppError(); err != nil {
		return nil, err
	}
	return &reply, nil
}

func hasOutput(lines []string) bool {
	for _, l := range lines {
		if len(l) > 0 {
			return true
		}
	}
	return false
}
