// Package radioapp wires the UI, radio engine, playback backend and
// configuration together to present the LiveRadio desktop window.
package radioapp

import (
	"fmt"
	"strings"
	"sync"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/app"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/dialog"
	"fyne.io/fyne/v2/theme"
	"fyne.io/fyne/v2/widget"
	"github.com/rs/zerolog"

	"github.com/edward-ap/liveradio/internal/bus"
	"github.com/edward-ap/liveradio/internal/config"
	"github.com/edward-ap/liveradio/internal/effects"
	"github.com/edward-ap/liveradio/internal/radio"
	"github.com/edward-ap/liveradio/internal/stream"
	"github.com/edward-ap/liveradio/internal/ui"
)

// App owns the fyne application, main window, engine and widgets. Widgets
// talk to the engine only through bus events.
type App struct {
	fa      fyne.App
	w       fyne.Window
	cfg     *config.Config
	log     zerolog.Logger
	bus     *bus.Bus
	engine  *radio.Engine
	backend *Backend
	frames  *ui.FrameScheduler
	retry   *retrier
	unsub   []func()

	// UI elements
	playBtn    *widget.Button
	channelSel *widget.Select
	eqSel      *widget.Select
	urlEntry   *widget.Entry
	volSlider  *widget.Slider
	status     *ui.StatusLine
	spectrum   *ui.SpectrumView
	ind        *ui.StreamIndicator

	mu       sync.Mutex
	channels map[string]radio.Channel // select label -> channel
	silent   bool
}

// NewApp builds the window and engine over backend. Ownership of backend
// passes to the App; it is closed with the window.
func NewApp(cfg *config.Config, backend *Backend, logger zerolog.Logger) (*App, error) {
	fa := app.NewWithID(config.AppID)
	fa.Settings().SetTheme(theme.DarkTheme())
	w := fa.NewWindow("LiveRadio")
	w.SetMaster()
	w.Resize(fyne.NewSize(float32(cfg.WindowW), float32(cfg.WindowH)))

	a := &App{
		fa:       fa,
		w:        w,
		cfg:      cfg,
		log:      logger.With().Str("component", "app").Logger(),
		bus:      bus.New(),
		backend:  backend,
		frames:   ui.NewFrameScheduler(),
		channels: map[string]radio.Channel{},
	}
	obs := radio.Observers{radio.BusObserver{Bus: a.bus}, logObserver{log: a.log}}
	e, err := newEngine(cfg, backend, a.bus, a.frames, obs, &logger)
	if err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}
	a.engine = e
	a.retry = newRetrier(a.bus, e, DefaultRetryDelay, a.log)

	a.buildUI()
	a.subscribe()
	backend.OnMetadata(a.onMetadata)
	startup(a.bus, cfg, backend.Sink)
	if ch := e.Channel(); ch != nil {
		a.selectChannel(*ch)
	}

	w.SetCloseIntercept(a.shutdown)
	w.Canvas().SetOnTypedKey(a.handleShortcutKey)
	return a, nil
}

// Run starts the frame clock and enters the fyne event loop.
func (a *App) Run() {
	a.frames.Start()
	a.w.ShowAndRun()
}

// subscribe routes engine telemetry into the widgets.
func (a *App) subscribe() {
	a.unsub = append(a.unsub,
		a.retry.subscribe(),
		a.bus.Subscribe(radio.EventState, func(p any) {
			playing, _ := p.(bool)
			a.onState(playing)
		}),
		a.bus.Subscribe(radio.EventPosition, func(p any) {
			if secs, ok := p.(float64); ok {
				a.status.SetPosition(secs)
			}
		}),
		a.bus.Subscribe(radio.EventSpectrumData, func(p any) {
			if data, ok := p.([]byte); ok {
				a.spectrum.Update(data)
			}
		}),
		a.bus.Subscribe(radio.EventError, func(p any) {
			te, _ := p.(radio.TrackError)
			if te.IsRetry {
				a.ind.SetState(ui.IndicatorBuffering)
			} else {
				a.ind.SetState(ui.IndicatorError)
			}
		}),
	)
}

// onMetadata shows the announced title, falling back to the channel name.
func (a *App) onMetadata(md stream.Metadata) {
	a.log.Debug().Str("station", md.Station).Str("title", md.Title).Msg("stream metadata")
	a.status.SetTitle(nowPlaying(md, a.engine.Channel().DisplayName()))
}

func (a *App) onState(playing bool) {
	if playing {
		a.ind.SetState(ui.IndicatorLive)
		ui.CallOnMain(func() { a.playBtn.SetIcon(theme.MediaStopIcon()) })
		return
	}
	if a.ind.State() != ui.IndicatorError {
		a.ind.SetState(ui.IndicatorIdle)
	}
	a.spectrum.Clear()
	ui.CallOnMain(func() { a.playBtn.SetIcon(theme.MediaPlayIcon()) })
}

// buildUI lays out the control row, status line and spectrum.
func (a *App) buildUI() {
	a.playBtn = widget.NewButtonWithIcon("", theme.MediaPlayIcon(), a.togglePlay)
	a.ind = ui.NewStreamIndicator(10)
	a.status = ui.NewStatusLine()
	a.spectrum = ui.NewSpectrumView(ui.DefaultBars)

	a.channelSel = widget.NewSelect(nil, a.onChannelSelected)
	a.channelSel.PlaceHolder = "Channel"
	a.refreshChannels()

	a.eqSel = widget.NewSelect(effects.PresetNames(), a.onPresetSelected)
	a.eqSel.Selected = presetLabel(a.cfg.EQPreset)

	a.volSlider = widget.NewSlider(0, 100)
	a.volSlider.Step = 1
	a.volSlider.SetValue(a.cfg.Volume * 100)
	a.volSlider.OnChanged = func(v float64) { a.setVolume(v / 100) }

	a.urlEntry = widget.NewEntry()
	a.urlEntry.SetPlaceHolder("Stream or playlist URL")
	a.urlEntry.OnSubmitted = func(string) { a.addChannel() }
	addBtn := widget.NewButtonWithIcon("", theme.ContentAddIcon(), a.addChannel)

	controls := container.NewBorder(nil, nil,
		container.NewHBox(a.playBtn, a.ind.CanvasObject()),
		container.NewHBox(a.status.Clock, a.eqSel),
		a.channelSel,
	)
	volume := container.NewBorder(nil, nil, widget.NewIcon(theme.VolumeUpIcon()), nil, a.volSlider)
	addRow := container.NewBorder(nil, nil, nil, addBtn, a.urlEntry)
	a.w.SetContent(container.NewBorder(
		container.NewVBox(controls, a.status.Title),
		container.NewVBox(volume, addRow),
		nil, nil,
		a.spectrum,
	))
}

func presetLabel(name string) string {
	if p, ok := effects.FindPreset(name); ok {
		return p.Name
	}
	return effects.PresetFlat
}

// refreshChannels rebuilds the select options from the config.
func (a *App) refreshChannels() {
	a.mu.Lock()
	a.channels = map[string]radio.Channel{}
	opts := make([]string, 0, len(a.cfg.Channels))
	for _, ch := range a.cfg.Channels {
		label := channelLabel(ch, a.channels)
		a.channels[label] = ch
		opts = append(opts, label)
	}
	a.mu.Unlock()
	a.channelSel.Options = opts
	a.channelSel.Refresh()
}

// channelLabel is the display name, disambiguated against taken labels.
func channelLabel(ch radio.Channel, taken map[string]radio.Channel) string {
	label := ch.DisplayName()
	if label == "" {
		label = "(no url)"
	}
	base := label
	for n := 2; ; n++ {
		if _, dup := taken[label]; !dup {
			return label
		}
		label = fmt.Sprintf("%s (%d)", base, n)
	}
}

// selectChannel updates the widgets without emitting events.
func (a *App) selectChannel(ch radio.Channel) {
	a.mu.Lock()
	var label string
	for l, c := range a.channels {
		if c.ID == ch.ID {
			label = l
			break
		}
	}
	a.silent = true
	a.mu.Unlock()
	if label != "" {
		a.channelSel.SetSelected(label)
	}
	a.mu.Lock()
	a.silent = false
	a.mu.Unlock()
	a.status.SetTitle(ch.DisplayName())
}

func (a *App) onChannelSelected(label string) {
	a.mu.Lock()
	ch, ok := a.channels[label]
	silent := a.silent
	a.mu.Unlock()
	if !ok || silent {
		return
	}
	a.cfg.LastChannel = ch.ID
	a.status.SetTitle(ch.DisplayName())
	a.status.SetPosition(0)
	if a.engine.Playing() {
		a.play(&ch)
		return
	}
	a.bus.Emit(radio.EventChannelChange, &ch)
}

func (a *App) onPresetSelected(name string) {
	p, ok := effects.FindPreset(name)
	if !ok {
		return
	}
	a.cfg.EQPreset = p.Name
	a.bus.Emit(radio.EventUpdateEQ, p.Gains)
}

// addChannel stores the entered URL as a channel and plays it.
func (a *App) addChannel() {
	url := strings.TrimSpace(a.urlEntry.Text)
	if url == "" {
		return
	}
	ch := a.cfg.AddChannel(url, url)
	a.refreshChannels()
	a.urlEntry.SetText("")
	a.selectChannel(*ch)
	a.cfg.LastChannel = ch.ID
	a.play(ch)
}

// PlayURL adds url as a channel and starts it, as if entered by hand.
func (a *App) PlayURL(url string) {
	a.urlEntry.SetText(url)
	a.addChannel()
}

func (a *App) play(ch *radio.Channel) {
	a.ind.SetState(ui.IndicatorBuffering)
	a.bus.Emit(radio.EventPlay, ch)
}

// togglePlay pauses, resumes, or starts the selected channel when none is
// current yet.
func (a *App) togglePlay() {
	if a.engine.Playing() {
		a.retry.stop()
		a.bus.Emit(radio.EventTogglePlay, nil)
		return
	}
	ch := a.engine.Channel()
	if ch == nil {
		a.mu.Lock()
		sel, ok := a.channels[a.channelSel.Selected]
		a.mu.Unlock()
		if !ok {
			dialog.ShowInformation("Channel", "Pick a channel or add a stream URL first.", a.w)
			return
		}
		ch = &sel
	}
	if !ch.Playable() {
		dialog.ShowInformation("Channel", "This channel has no stream URL.", a.w)
		return
	}
	a.cfg.LastChannel = ch.ID
	if a.engine.Channel() == ch {
		a.ind.SetState(ui.IndicatorBuffering)
		a.bus.Emit(radio.EventTogglePlay, nil)
		return
	}
	a.play(ch)
}

func (a *App) setVolume(level float64) {
	a.cfg.Volume = level
	a.bus.Emit(radio.EventVolumeSet, level)
}

// changeVolume nudges the slider, which forwards to the engine.
func (a *App) changeVolume(delta float64) {
	a.volSlider.SetValue(a.volSlider.Value + delta)
}

// handleShortcutKey maps the keyboard shortcuts.
func (a *App) handleShortcutKey(ke *fyne.KeyEvent) {
	if ke == nil {
		return
	}
	switch ke.Name {
	case fyne.KeySpace:
		a.togglePlay()
	case fyne.KeyUp:
		a.changeVolume(+10)
	case fyne.KeyDown:
		a.changeVolume(-10)
	case fyne.KeyPlus:
		a.changeVolume(+1)
	case fyne.KeyMinus:
		a.changeVolume(-1)
	}
}

// shutdown persists the window and channel, then releases everything.
func (a *App) shutdown() {
	sz := a.w.Canvas().Size()
	a.cfg.WindowW = int(sz.Width)
	a.cfg.WindowH = int(sz.Height)
	if ch := a.engine.Channel(); ch != nil {
		a.cfg.LastChannel = ch.ID
	}
	if err := a.cfg.Save(); err != nil {
		a.log.Warn().Err(err).Msg("config save failed")
	}
	a.retry.stop()
	a.backend.OnMetadata(nil)
	for _, fn := range a.unsub {
		fn()
	}
	a.engine.Close()
	a.frames.Stop()
	a.ind.SetState(ui.IndicatorIdle)
	a.backend.Close()
	a.w.Close()
	a.fa.Quit()
}
