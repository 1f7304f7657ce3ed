package main

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	arg "github.com/alexflint/go-arg"
	"github.com/slackgrab/slackgrab/slackgrab-go/importance"
	"github.com/slackgrab/slackgrab/slackgrab-go/importance/features"
	"github.com/slackgrab/slackgrab/slackgrab-go/importance/trainstore"
	"github.com/slackgrab/slackgrab/slackgrab-golib/applog"
	"github.com/slackgrab/slackgrab/slackgrab-golib/errors"
	"github.com/slackgrab/slackgrab/slackgrab-golib/rollbar"
	"go.uber.org/zap"
)

type options struct {
	Config    string `arg:"--config" help:"YAML config file"`
	ModelDir  string `arg:"--model-dir" help:"directory for model checkpoints"`
	Store     string `arg:"--store" help:"SQLite example store, enables batch training"`
	Input     string `arg:"--input" help:"JSON-lines messages to score, - for stdin"`
	DebugAddr string `arg:"--debug-addr" help:"serve debug endpoints on this address"`
	Verbose   bool   `arg:"-v,--verbose" help:"debug logging"`
	NoReport  bool   `arg:"--no-report" help:"do not send error reports"`
}

func main() {
	var args options
	arg.MustParse(&args)

	if err := run(args); err != nil {
		log.Fatalln(err)
	}
}

func run(args options) (err error) {
	cfg, err := importance.LoadConfig(args.Config)
	if err != nil {
		return err
	}
	if args.ModelDir != "" {
		cfg.ModelDir = args.ModelDir
	}
	if args.Verbose {
		cfg.Log.Level = "debug"
	}

	logger, err := applog.New(cfg.Log)
	if err != nil {
		return err
	}
	defer logger.Sync()
	rollbar.SetLogger(logger)
	if args.NoReport {
		rollbar.Disable()
	}
	defer rollbar.Wait()

	var opts importance.Options
	opts.Logger = logger
	if args.Store != "" {
		var store *trainstore.Store
		store, err = trainstore.Open(args.Store, logger)
		if err != nil {
			return err
		}
		defer errors.Defer(&err, store.Close)
		opts.Source = store
		opts.Recorder = store
	}

	engine, err := importance.New(cfg, opts)
	if err != nil {
		return err
	}
	engine.Start()
	defer func() {
		if err := engine.Stop(); err != nil {
			logger.Error("stopping engine", zap.Error(err))
		}
	}()

	var srv *http.Server
	if args.DebugAddr != "" {
		srv = &http.Server{Addr: args.DebugAddr, Handler: newDebugHandler(engine, logger)}
		go func() {
			logger.Info("serving debug endpoints", zap.String("addr", args.DebugAddr))
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("debug server failed", zap.Error(err))
			}
		}()
	}

	if args.Input != "" {
		in := os.Stdin
		if args.Input != "-" {
			f, err := os.Open(args.Input)
			if err != nil {
				return errors.Wrapf(err, "opening input")
			}
			defer f.Close()
			in = f
		}
		n, err := scoreLines(engine, in, os.Stdout)
		if err != nil {
			return err
		}
		logger.Info("scored input", zap.Int("messages", n))
	}

	if srv == nil {
		return nil
	}
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(ctx)
}

type scorer interface {
	Score(msg features.Message, sc features.Context) importance.Score
}

type scoredLine struct {
	ID    string           `json:"id"`
	Score importance.Score `json:"score"`
}

// scoreLines scores one JSON message per line of r and writes one JSON
// result per line to w. Blank lines are skipped.
func scoreLines(s scorer, r io.Reader, w io.Writer) (int, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1<<20)
	enc := json.NewEncoder(w)

	var n int
	for line := 1; scanner.Scan(); line++ {
		buf := scanner.Bytes()
		if len(buf) == 0 {
			continue
		}
		var msg features.Message
		if err := json.Unmarshal(buf, &msg); err != nil {
			return n, errors.Wrapf(err, "line %d", line)
		}
		score := s.Score(msg, features.NewContext(time.Now()))
		if err := enc.Encode(scoredLine{ID: msg.ID, Score: score}); err != nil {
			return n, errors.Wrapf(err, "writing result")
		}
		n++
	}
	return n, errors.WrapfOrNil(scanner.Err(), "reading input")
}
