package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/odvcencio/lantern/pkg/browser"
	lerrors "github.com/odvcencio/lantern/pkg/errors"
	"github.com/odvcencio/lantern/pkg/storage"
)

const shellHelp = `commands:
  open [url]        create a view and make it current
  go <url>          navigate the current view
  back | forward    traverse history
  stop              cancel the in-flight load
  reload [hard]     reload, bypassing the cache with "hard"
  resize <w> <h>    resize the current view
  close             destroy the current view
  views             list views
  use <id>          make another view current
  status            show the current view
  history           show the current view's history
  bookmark [folder] bookmark the current location
  bookmarks [folder]
  help
  quit`

var errQuit = errors.New("quit")

// command is one parsed shell line.
type command struct {
	name string
	args []string
}

func parseCommand(line string) (command, bool) {
	fields := strings.Fields(line)
	if len(fields) == 0 || strings.HasPrefix(fields[0], "#") {
		return command{}, false
	}
	return command{name: strings.ToLower(fields[0]), args: fields[1:]}, true
}

// shell drives the renderer from line-oriented input.
type shell struct {
	renderer *browser.Renderer
	store    *storage.Store

	mu      sync.Mutex
	out     io.Writer
	current browser.ViewID
}

func newShell(r *browser.Renderer, store *storage.Store, out io.Writer) *shell {
	return &shell{renderer: r, store: store, out: out}
}

// Run reads commands from in until quit, EOF or ctx is done.
func (s *shell) Run(ctx context.Context, in io.Reader) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	lines := make(chan string)
	readErr := make(chan error, 1)
	go func() {
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		readErr <- scanner.Err()
	}()

	s.prompt()
	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-readErr:
			return err
		case line := <-lines:
			cmd, ok := parseCommand(line)
			if ok {
				err := s.exec(ctx, cmd)
				if errors.Is(err, errQuit) {
					return nil
				}
				if err != nil {
					s.printError(err)
				}
			}
			s.prompt()
		}
	}
}

func (s *shell) exec(ctx context.Context, cmd command) error {
	switch cmd.name {
	case "help", "?":
		s.printf("%s\n", shellHelp)
		return nil
	case "quit", "exit":
		return errQuit
	case "open":
		id, err := s.renderer.CreateView(ctx, argOr(cmd.args, 0, ""))
		if err != nil {
			return err
		}
		s.setCurrent(id)
		s.printf("view %s\n", id)
		return nil
	case "views":
		return s.listViews()
	case "use":
		if len(cmd.args) != 1 {
			return usage("use <id>")
		}
		id := browser.ViewID(cmd.args[0])
		if _, err := s.renderer.Snapshot(id); err != nil {
			return err
		}
		s.setCurrent(id)
		return nil
	case "bookmarks":
		return s.listBookmarks(ctx, argOr(cmd.args, 0, ""))
	}

	id, err := s.currentView()
	if err != nil {
		return err
	}

	switch cmd.name {
	case "go", "navigate":
		if len(cmd.args) != 1 {
			return usage("go <url>")
		}
		return s.renderer.Navigate(ctx, id, cmd.args[0])
	case "back":
		entry, err := s.renderer.Back(ctx, id)
		if err != nil {
			return err
		}
		s.printf("back to %s\n", entry.Location)
		return nil
	case "forward":
		entry, err := s.renderer.Forward(ctx, id)
		if err != nil {
			return err
		}
		s.printf("forward to %s\n", entry.Location)
		return nil
	case "stop":
		return s.renderer.Stop(ctx, id)
	case "reload":
		hard := len(cmd.args) > 0 && strings.EqualFold(cmd.args[0], "hard")
		return s.renderer.Reload(ctx, id, hard)
	case "resize":
		if len(cmd.args) != 2 {
			return usage("resize <w> <h>")
		}
		w, errW := strconv.Atoi(cmd.args[0])
		h, errH := strconv.Atoi(cmd.args[1])
		if errW != nil || errH != nil {
			return usage("resize <w> <h>")
		}
		vp := s.renderer.Config().Viewport
		vp.Width, vp.Height = w, h
		return s.renderer.Resize(ctx, id, vp)
	case "close":
		if err := s.renderer.DestroyView(ctx, id); err != nil {
			return err
		}
		next := browser.ViewID("")
		if views := s.renderer.Views(); len(views) > 0 {
			next = views[len(views)-1]
		}
		s.setCurrent(next)
		return nil
	case "status":
		snap, err := s.renderer.Snapshot(id)
		if err != nil {
			return err
		}
		s.printf("%s\n", formatSnapshot(snap))
		return nil
	case "history":
		return s.printHistory(id)
	case "bookmark":
		return s.addBookmark(ctx, id, argOr(cmd.args, 0, ""))
	default:
		return fmt.Errorf("unknown command %q (try help)", cmd.name)
	}
}

func (s *shell) listViews() error {
	current := s.getCurrent()
	for _, id := range s.renderer.Views() {
		snap, err := s.renderer.Snapshot(id)
		if err != nil {
			return err
		}
		marker := " "
		if id == current {
			marker = "*"
		}
		s.printf("%s %s\n", marker, formatSnapshot(snap))
	}
	return nil
}

func (s *shell) printHistory(id browser.ViewID) error {
	entries, cursor, err := s.renderer.History(id)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		s.printf("(empty)\n")
		return nil
	}
	for i, e := range entries {
		marker := " "
		if i == cursor {
			marker = ">"
		}
		s.printf("%s %d %s %q\n", marker, i, e.Location, e.Title)
	}
	return nil
}

func (s *shell) addBookmark(ctx context.Context, id browser.ViewID, folder string) error {
	if s.store == nil {
		return errStorageDisabled
	}
	snap, err := s.renderer.Snapshot(id)
	if err != nil {
		return err
	}
	if snap.Location == "" {
		return lerrors.New(lerrors.ErrCodeInvalidInput, "nothing loaded to bookmark")
	}
	b, err := s.store.AddBookmark(ctx, snap.Location, snap.Title, folder)
	if err != nil {
		return err
	}
	s.printf("bookmarked %s in %s\n", b.URL, b.Folder)
	return nil
}

func (s *shell) listBookmarks(ctx context.Context, folder string) error {
	if s.store == nil {
		return errStorageDisabled
	}
	marks, err := s.store.ListBookmarks(ctx, folder)
	if err != nil {
		return err
	}
	if len(marks) == 0 {
		s.printf("(none)\n")
		return nil
	}
	for _, b := range marks {
		s.printf("[%s] %s %q\n", b.Folder, b.URL, b.Title)
	}
	return nil
}

// notify prints views that reached a terminal phase during a tick.
func (s *shell) notify(res browser.TickResult) {
	for _, snap := range res.Updates {
		switch snap.Phase {
		case browser.PhaseLoaded, browser.PhaseFailed, browser.PhaseCancelled:
			s.printf("\n%s\n", formatSnapshot(snap))
		}
	}
}

func formatSnapshot(snap browser.Snapshot) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s [%s gen=%d]", snap.View, snap.Phase, snap.Generation)
	if snap.Phase == browser.PhaseLoading {
		fmt.Fprintf(&b, " %3.0f%% %s", snap.Progress*100, snap.PendingLocation)
	} else if snap.Location != "" {
		fmt.Fprintf(&b, " %s", snap.Location)
	}
	if snap.Title != "" {
		fmt.Fprintf(&b, " %q", snap.Title)
	}
	if msg := snap.ErrorMessage(); msg != "" {
		fmt.Fprintf(&b, " error=%q", msg)
	}
	if snap.CanGoBack {
		b.WriteString(" <")
	}
	if snap.CanGoForward {
		b.WriteString(" >")
	}
	if !snap.UpdatedAt.IsZero() {
		fmt.Fprintf(&b, " @%s", snap.UpdatedAt.Format(time.TimeOnly))
	}
	return b.String()
}

var errStorageDisabled = lerrors.New(lerrors.ErrCodeConfiguration, "storage is disabled").
	WithRemediation("set storage.enabled: true or LANTERN_STORAGE_ENABLED=1")

func (s *shell) currentView() (browser.ViewID, error) {
	id := s.getCurrent()
	if id == "" {
		return "", lerrors.New(lerrors.ErrCodeViewNotFound, "no current view").
			WithRemediation("run: open [url]")
	}
	return id, nil
}

func (s *shell) getCurrent() browser.ViewID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

func (s *shell) setCurrent(id browser.ViewID) {
	s.mu.Lock()
	s.current = id
	s.mu.Unlock()
}

func (s *shell) prompt() {
	s.printf("lantern> ")
}

func (s *shell) printError(err error) {
	s.printf("error: %v\n", err)
	for _, tip := range lerrors.Remediation(err) {
		s.printf("  hint: %s\n", tip)
	}
}

func (s *shell) printf(format string, args ...any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintf(s.out, format, args...)
}

func usage(u string) error {
	return lerrors.New(lerrors.ErrCodeInvalidInput, "usage: "+u)
}

func argOr(args []string, i int, fallback string) string {
	if i < len(args) {
		return args[i]
	}
	return fallback
}
