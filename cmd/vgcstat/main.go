// Command vgcstat drives a gc.Heap with synthetic mutators for manual
// diagnostics: allocate garbage continuously, force collections on a timer
// or on a keypress, and watch metrics.Stats settle. It is not part of the embeddable core.
package main

import (
	"fmt"
	"io"
	"math/rand"
	"os"
	"time"

	"github.com/mattn/go-colorable"
	"github.com/mattn/go-tty"
	"github.com/spf13/cobra"

	"github.com/vireheap/vire-gc/config"
	"github.com/vireheap/vire-gc/gc"
	"github.com/vireheap/vire-gc/internal/task"
	"github.com/vireheap/vire-gc/metrics"
)

var (
	configPath  string
	duration    time.Duration
	interval    time.Duration
	interactive bool
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "vgcstat",
		Short: "Drive a vire-gc heap with synthetic allocation for diagnostics",
		RunE:  runStat,
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to a vire-gc YAML config file")
	cmd.Flags().DurationVarP(&duration, "duration", "d", 10*time.Second, "how long to run before exiting")
	cmd.Flags().DurationVarP(&interval, "interval", "i", time.Second, "how often to force a collection and print stats")
	cmd.Flags().BoolVarP(&interactive, "interactive", "k", false, "force a collection on every keypress instead of on a timer")
	return cmd
}

func runStat(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	heap, err := gc.NewHeap(cfg)
	if err != nil {
		return err
	}
	defer heap.Close()

	out := colorable.NewColorableStdout()
	mutator := heap.RegisterMutator()
	defer heap.UnregisterMutator(mutator)

	stop := make(chan struct{})
	go churn(heap, mutator, stop)
	defer close(stop)

	if interactive {
		return runInteractive(heap, out)
	}
	return runTimed(heap, out)
}

// churn is the synthetic mutator: it repeatedly allocates small garbage
// objects, dropping every reference immediately, so the heap has real
// garbage for vgcstat's forced collections to reclaim.
func churn(heap *gc.Heap, m *task.Mutator, stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		default:
		}
		size := uintptr(16 + rand.Intn(256))
		if _, err := heap.Allocate(m, size, 0); err != nil {
			heap.PollSafepoint(m)
			continue
		}
		heap.PollSafepoint(m)
	}
}

func runTimed(heap *gc.Heap, out io.Writer) error {
	deadline := time.Now().Add(duration)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for time.Now().Before(deadline) {
		<-ticker.C
		printStats(out, heap.Collect(gc.DefaultVisitor{}))
	}
	return nil
}

func runInteractive(heap *gc.Heap, out io.Writer) error {
	t, err := tty.Open()
	if err != nil {
		return err
	}
	defer t.Close()

	fmt.Fprintln(out, "press any key to force a collection, Ctrl-C to exit")
	for {
		if _, err := t.ReadRune(); err != nil {
			return err
		}
		printStats(out, heap.Collect(gc.DefaultVisitor{}))
	}
}

func printStats(out io.Writer, s metrics.Stats) {
	fmt.Fprintf(out, "\x1b[36mgc#%d\x1b[0m pause=%s marked=%d swept=%d heap=%d/%d large=%d\n",
		s.NumGC, s.LastPause, s.ObjectsMarked, s.ObjectsSwept, s.HeapInUseBytes, s.HeapCapacityBytes, s.LargeObjectsLive)
}
