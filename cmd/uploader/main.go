package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/joho/godotenv"

	"github.com/amillerrr/lms-catalog/internal/apiclient"
	"github.com/amillerrr/lms-catalog/internal/config"
	"github.com/amillerrr/lms-catalog/internal/logger"
	"github.com/amillerrr/lms-catalog/internal/observability"
	"github.com/amillerrr/lms-catalog/internal/uploadqueue"
	"github.com/amillerrr/lms-catalog/pkg/models"
)

const (
	ServiceName           = "lms-uploader"
	LoginTimeout          = 30 * time.Second
	TracerShutdownTimeout = 5 * time.Second
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	command := os.Args[1]
	args := os.Args[2:]

	switch command {
	case "upload":
		os.Exit(cmdUpload(args))
	case "courses":
		os.Exit(cmdCourses(args))
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Error: unknown command %q\n\n", command)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `lms-uploader - bulk video uploads for the course catalog

Usage:
  lms-uploader upload [flags] <file>...   Upload videos into a course, one at a time
  lms-uploader courses                    List courses and their IDs
  lms-uploader help                       Show this help message

Environment:
  LMS_API_URL, LMS_USERNAME, LMS_PASSWORD, UPLOAD_TIMEOUT (a .env file is read if present)

Examples:
  lms-uploader courses
  lms-uploader upload -course 6f1c... intro.mp4 setup.mp4
  lms-uploader upload -course 6f1c... -title "Welcome" -title "Setup" a.mp4 b.mp4

For help on specific command: lms-uploader <command> -h
`)
}

// titleList collects repeated -title flags.
type titleList []string

func (t *titleList) String() string { return strings.Join(*t, ", ") }

func (t *titleList) Set(v string) error {
	*t = append(*t, v)
	return nil
}

// session is a logged-in API client with its configuration.
type session struct {
	cfg    *config.Config
	log    *slog.Logger
	client *apiclient.Client
	close  func()
}

func login(ctx context.Context) (*session, error) {
	_ = godotenv.Load()

	cfg, err := config.LoadUploader()
	if err != nil {
		return nil, err
	}

	log := logger.NewWithWriter(os.Stderr, cfg.LogLevel)
	slog.SetDefault(log)

	shutdownTracer, err := observability.InitTracer(ctx, ServiceName, cfg)
	if err != nil {
		return nil, fmt.Errorf("initialize tracer: %w", err)
	}
	closeFn := func() {
		ctx, cancel := context.WithTimeout(context.Background(), TracerShutdownTimeout)
		defer cancel()
		if err := shutdownTracer(ctx); err != nil {
			log.Error("Failed to shutdown tracer", "error", err)
		}
	}

	client := apiclient.New(cfg.Uploader.APIURL, apiclient.WithTimeout(cfg.Uploader.Timeout))

	loginCtx, cancel := context.WithTimeout(ctx, LoginTimeout)
	defer cancel()
	if err := client.Login(loginCtx, cfg.Uploader.Username, cfg.Uploader.Password); err != nil {
		closeFn()
		if errors.Is(err, models.ErrInvalidCredentials) {
			return nil, fmt.Errorf("login as %s: %w", cfg.Uploader.Username, err)
		}
		return nil, fmt.Errorf("login: %w", err)
	}

	return &session{cfg: cfg, log: log, client: client, close: closeFn}, nil
}

func cmdCourses(args []string) int {
	fs := flag.NewFlagSet("courses", flag.ExitOnError)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: lms-uploader courses\n")
	}
	fs.Parse(args)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	s, err := login(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	defer s.close()

	courses, err := s.client.ListCourses(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error listing courses: %v\n", err)
		return 1
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTITLE\tVIDEOS\tPUBLISHED")
	for _, c := range courses {
		fmt.Fprintf(w, "%s\t%s\t%d\t%t\n", c.ID, c.Title, c.VideoCount, c.IsPublished)
	}
	w.Flush()
	return 0
}

func cmdUpload(args []string) int {
	fs := flag.NewFlagSet("upload", flag.ExitOnError)
	courseID := fs.String("course", "", "Target course ID (required)")
	description := fs.String("description", "", "Description applied to every uploaded video")
	var titles titleList
	fs.Var(&titles, "title", "Title for the file at the same position (repeatable)")
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: lms-uploader upload [flags] <file>...\n\nFlags:\n")
		fs.PrintDefaults()
	}
	fs.Parse(args)

	if *courseID == "" || fs.NArg() == 0 {
		fmt.Fprintf(os.Stderr, "Error: -course and at least one file are required\n")
		fs.Usage()
		return 1
	}

	files := make([]uploadqueue.File, 0, fs.NArg())
	for _, path := range fs.Args() {
		f, err := uploadqueue.FileFromPath(path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
		files = append(files, f)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	s, err := login(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	defer s.close()

	printer := &progressPrinter{last: make(map[string]string)}
	queue := uploadqueue.New(uploadqueue.Config{
		Uploader: s.client,
		Logger:   s.log,
		OnUpdate: printer.print,
	})

	sub, err := queue.Subscribe(func(v *models.Video) {
		fmt.Fprintf(os.Stderr, "  -> %s (order %d) %s\n", v.ID, v.Order, v.VideoURL)
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	defer sub.Unsubscribe()

	n, err := queue.Enqueue(files, *courseID, titles)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	if *description != "" {
		for _, item := range queue.Items() {
			if item.Status == uploadqueue.StatusPending {
				_ = queue.Edit(item.ID, item.Title, *description)
			}
		}
	}
	fmt.Fprintf(os.Stderr, "Queued %d file(s) for course %s\n", n, *courseID)

	runCtx, cancelRun := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = queue.Run(runCtx)
	}()

	waitErr := queue.WaitIdle(ctx)
	cancelRun()
	<-done

	stats := queue.Stats()
	printSummary(queue.Items())
	fmt.Fprintf(os.Stderr, "Completed %d, failed %d, not started %d\n", stats.Completed, stats.Error, stats.Pending)

	if waitErr != nil || stats.Error > 0 || stats.Pending > 0 {
		return 1
	}
	return 0
}

// progressPrinter writes one line per status change and per 10% step.
type progressPrinter struct {
	mu   sync.Mutex
	last map[string]string
}

func (p *progressPrinter) print(item uploadqueue.Item) {
	line := string(item.Status)
	if item.Status == uploadqueue.StatusUploading {
		line = fmt.Sprintf("%s %d%%", item.Status, item.Progress/10*10)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.last[item.ID] == line {
		return
	}
	p.last[item.ID] = line

	if item.Status == uploadqueue.StatusError {
		fmt.Fprintf(os.Stderr, "[%s] %s: error: %s\n", item.FileName, item.Title, item.Error)
		return
	}
	fmt.Fprintf(os.Stderr, "[%s] %s: %s\n", item.FileName, item.Title, line)
}

func printSummary(items []uploadqueue.Item) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "FILE\tTITLE\tSTATUS\tVIDEO")
	for _, item := range items {
		videoID := ""
		if item.Video != nil {
			videoID = item.Video.ID
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", item.FileName, item.Title, item.Status, videoID)
	}
	w.Flush()
}
