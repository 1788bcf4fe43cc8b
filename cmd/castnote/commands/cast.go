package commands

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"

	"castnote/internal/caster"
	"castnote/internal/castv2"
	"castnote/internal/contentserver"
	"castnote/internal/discovery"
	"castnote/internal/netaddr"
	"castnote/internal/render"

	"github.com/spf13/cobra"
)

var castCmd = &cobra.Command{
	Use:   "cast <note.md>",
	Short: "Render a note and cast it to a receiver",
	Long: `Render a Markdown note, serve it and search for cast receivers.

Receivers are listed as they are found. Type a number and Enter to cast to
that receiver, "r" to search again, "q" to cancel the search and "s" to
stop casting. Ctrl-C stops casting and exits.`,
	Args: cobra.ExactArgs(1),
	RunE: runCast,
}

func init() {
	castCmd.Flags().String("root", "", "Vault directory images are served from (default: the note's directory)")
	castCmd.Flags().String("device", "", "Cast to the first receiver whose name contains this text")
	castCmd.Flags().Bool("watch", false, "Re-render and reload the receiver when the note changes")
}

// picker numbers the devices of the current scan and auto-picks one by name.
type picker struct {
	out   io.Writer
	match string
	auto  chan discovery.Device

	mu      sync.Mutex
	devices []discovery.Device
}

func newPicker(out io.Writer, match string) *picker {
	return &picker{out: out, match: strings.ToLower(match), auto: make(chan discovery.Device, 1)}
}

func (p *picker) reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.devices = nil
}

func (p *picker) add(d discovery.Device) {
	p.mu.Lock()
	p.devices = append(p.devices, d)
	n := len(p.devices)
	p.mu.Unlock()

	fmt.Fprintf(p.out, "%2d. %s (%s)\n", n, d.DisplayName(), d.Address())
	if p.match != "" && strings.Contains(strings.ToLower(d.DisplayName()), p.match) {
		select {
		case p.auto <- d:
		default:
		}
	}
}

func (p *picker) get(n int) (discovery.Device, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if n < 1 || n > len(p.devices) {
		return nil, false
	}
	return p.devices[n-1], true
}

func runCast(cmd *cobra.Command, args []string) error {
	rootDir, _ := cmd.Flags().GetString("root")
	match, _ := cmd.Flags().GetString("device")
	watch, _ := cmd.Flags().GetBool("watch")

	note := args[0]
	if rootDir == "" {
		rootDir = filepath.Dir(note)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	out := cmd.OutOrStdout()

	files, err := render.NewDirResolver(rootDir)
	if err != nil {
		return err
	}
	defer files.Close()
	docPath, err := files.Rel(note)
	if err != nil {
		return fmt.Errorf("%s is not inside %s: %w", note, files.Dir(), err)
	}

	srv := contentserver.New(files, app.log, app.metrics)
	if err := srv.Start(app.settings.Port); err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Stop(shutdownCtx); err != nil {
			app.log.Error("shutdown error", "error", err)
		}
	}()

	browser := discovery.NewMDNSBrowser(castv2.Factory(castv2.NewClient(nil, app.log)), app.log)
	ctl := caster.New(caster.Config{
		Server:  srv,
		Browser: browser,
		LocalIP: netaddr.InternalIPv4,
		Log:     app.log,
		Metrics: app.metrics,
	})
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := ctl.StopCasting(stopCtx); err != nil {
			app.log.Error("stop casting failed", "error", err)
		}
	}()

	serveMetrics(ctx, func() { app.metrics.SetActiveCast(ctl.Active() != nil) })

	refresh := make(chan struct{}, 1)
	if watch {
		go func() {
			err := render.Watch(ctx, note, 0, func() {
				select {
				case refresh <- struct{}{}:
				default:
				}
			}, app.log)
			if err != nil {
				app.log.Error("watch failed", "error", err)
			}
		}()
	}

	p := newPicker(out, match)
	scan := func() (*discovery.Session, error) {
		p.reset()
		fmt.Fprintln(out, "Searching for receivers...")
		return ctl.CastDocument(ctx, files.Note(docPath), render.Title(docPath), caster.Observer{
			OnObserved: p.add,
			OnTick: func(elapsed, max int) {
				if elapsed%10 == 0 {
					fmt.Fprintf(out, "Searching... (%d/%d)\n", elapsed, max)
				}
			},
			OnCasting: func(d discovery.Device) {
				fmt.Fprintf(out, "Casting to %s. s stops, r picks another receiver, Ctrl-C quits.\n", d.DisplayName())
			},
			OnFailed: func(d discovery.Device, err error) {
				fmt.Fprintf(out, "Casting to %s failed: %v (r searches again)\n", d.DisplayName(), err)
			},
			OnStopped: func(d discovery.Device, err error) {
				if err != nil {
					fmt.Fprintf(out, "Stopping %s failed: %v\n", d.DisplayName(), err)
					return
				}
				fmt.Fprintf(out, "Stopped casting to %s.\n", d.DisplayName())
			},
		})
	}

	sess, err := scan()
	if err != nil {
		return err
	}
	if sess.CanStop() {
		fmt.Fprintln(out, `A cast is active; "s" stops it.`)
	}

	lines := readLines(cmd.InOrStdin())
	done := sess.Done()
	for {
		select {
		case <-ctx.Done():
			return nil

		case <-done:
			done = nil
			if sess.State() == discovery.TimedOut {
				fmt.Fprintln(out, "Discovery complete.")
			}
			if ctl.Active() == nil && sess.State() != discovery.Resolved {
				return nil
			}

		case d := <-p.auto:
			if sess.State() == discovery.Scanning {
				_ = sess.Select(ctx, d)
			}

		case <-refresh:
			if err := ctl.Refresh(ctx); err != nil {
				fmt.Fprintf(out, "Refresh failed: %v\n", err)
			} else {
				fmt.Fprintln(out, "Note reloaded.")
			}

		case line, ok := <-lines:
			if !ok {
				lines = nil
				continue
			}
			switch line = strings.TrimSpace(line); line {
			case "":
			case "q":
				sess.Cancel()
			case "s":
				if sess.State() == discovery.Scanning && sess.CanStop() {
					_ = sess.RequestStop(ctx)
					return nil
				}
				if ctl.Active() == nil {
					fmt.Fprintln(out, "Nothing is casting.")
					continue
				}
				if err := ctl.StopCasting(ctx); err != nil {
					fmt.Fprintf(out, "Stop failed: %v\n", err)
				}
				return nil
			case "r":
				if sess, err = scan(); err != nil {
					return err
				}
				done = sess.Done()
			default:
				n, err := strconv.Atoi(line)
				if err != nil {
					fmt.Fprintf(out, "Unknown input %q\n", line)
					continue
				}
				d, ok := p.get(n)
				if !ok || sess.State() != discovery.Scanning {
					fmt.Fprintf(out, "No receiver %d to pick.\n", n)
					continue
				}
				_ = sess.Select(ctx, d)
			}
		}
	}
}

// readLines feeds r's lines to the returned channel until EOF.
func readLines(r io.Reader) <-chan string {
	ch := make(chan string)
	go func() {
		defer close(ch)
		sc := bufio.NewScanner(r)
		for sc.Scan() {
			ch <- sc.Text()
		}
	}()
	return ch
}
