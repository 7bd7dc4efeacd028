// Command balldevice-console is a terminal operator console for a running
// ball-device machine: a scrolling table of every device's state, held/
// available counts, and queue depth, refreshed on a tick. Grounded on
// cmd/vi-fighter/main.go's screen-init-then-event/ticker-select loop, and
// on render/colors.go's per-state color mapping — here one fixed
// go-colorful color per state family (idle green, busy amber, waiting
// blue, failure states red).
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/lucasb-eyer/go-colorful"

	"github.com/lixenwraith/balldevice/internal/config"
	"github.com/lixenwraith/balldevice/internal/corelog"
	"github.com/lixenwraith/balldevice/machine"
	"github.com/lixenwraith/balldevice/orchestrator"
)

var (
	colorIdle    = colorful.Color{R: 0.2, G: 0.8, B: 0.2}
	colorBusy    = colorful.Color{R: 0.9, G: 0.8, B: 0.1}
	colorWaiting = colorful.Color{R: 0.2, G: 0.5, B: 0.9}
	colorBroken  = colorful.Color{R: 0.9, G: 0.1, B: 0.1}
)

// stateColor picks one fixed color per state family; a state outside the
// listed families gets a Lab blend halfway between idle and broken.
func stateColor(s orchestrator.State) tcell.Color {
	var c colorful.Color
	switch s {
	case orchestrator.StateIdle:
		c = colorIdle
	case orchestrator.StateEjecting, orchestrator.StateBallLeft:
		c = colorBusy
	case orchestrator.StateWaitingForBall, orchestrator.StateWaitingForBallMechanical:
		c = colorWaiting
	case orchestrator.StateFailedConfirm, orchestrator.StateFailedEject, orchestrator.StateMissingBalls, orchestrator.StateEjectBroken:
		c = colorBroken
	default:
		c = colorIdle.BlendLab(colorBroken, 0.5)
	}
	r, g, b := c.RGB255()
	return tcell.NewRGBColor(int32(r), int32(g), int32(b))
}

func main() {
	configPath := flag.String("config", "balldevice.toml", "path to the device roster TOML file")
	debug := flag.Bool("debug", false, "enable debug logging to logs/balldevice.log")
	flag.Parse()

	logFile := corelog.Setup(*debug)
	if logFile != nil {
		defer logFile.Close()
	}

	configs, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "balldevice-console: %v\n", err)
		os.Exit(1)
	}

	switches := newConsoleSwitchReader()
	coils := newConsoleCoilDriver()

	m, err := machine.New(configs, switches, coils)
	if err != nil {
		fmt.Fprintf(os.Stderr, "balldevice-console: %v\n", err)
		os.Exit(1)
	}

	screen, err := tcell.NewScreen()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create screen: %v\n", err)
		os.Exit(1)
	}
	if err := screen.Init(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize screen: %v\n", err)
		os.Exit(1)
	}
	defer screen.Fini()

	ctx, cancel := newInterruptibleContext()
	defer cancel()

	if err := m.Start(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to start machine: %v\n", err)
		os.Exit(1)
	}
	defer m.Stop()

	eventChan := make(chan tcell.Event, 16)
	go func() {
		for {
			eventChan <- screen.PollEvent()
		}
	}()

	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()

	render(screen, m)
	for {
		select {
		case ev := <-eventChan:
			switch e := ev.(type) {
			case *tcell.EventKey:
				if e.Key() == tcell.KeyEscape || e.Rune() == 'q' {
					return
				}
			case *tcell.EventResize:
				screen.Sync()
			}
			render(screen, m)
		case <-ticker.C:
			render(screen, m)
		case <-ctx.Done():
			return
		}
	}
}

func render(screen tcell.Screen, m *machine.Machine) {
	screen.Clear()
	header := tcell.StyleDefault.Bold(true)
	drawText(screen, 0, 0, header, "DEVICE              STATE                 HELD  AVAIL  QUEUE")

	row := 2
	for _, dev := range m.Devices() {
		style := tcell.StyleDefault.Foreground(stateColor(dev.State()))
		line := fmt.Sprintf("%-20s%-22s%-6d%-7d%-6d",
			dev.Config.Name, dev.State().String(), dev.Held(), dev.Available(), dev.QueueLen())
		drawText(screen, 0, row, style, line)
		row++
	}

	drawText(screen, 0, row+1, tcell.StyleDefault.Dim(true), "q/esc to quit")
	screen.Show()
}

func drawText(screen tcell.Screen, x, y int, style tcell.Style, text string) {
	for i, r := range text {
		screen.SetContent(x+i, y, r, nil, style)
	}
}
