// Command nexzi is the Nexzi CLI entry point.
//
// This tool shares a screen peer-to-peer over WebRTC. Peers find each other
// by a 9-digit address through a signaling relay (or Redis), or exchange
// copy/paste codes when no relay is available.
//
// It can be launched interactively (no --role) or non-interactively via
// flags, environment variables (NEXZI_*) or a config file.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/pterm/pterm"
	"github.com/spf13/pflag"

	"github.com/1ureka/nexzi/internal/address"
	"github.com/1ureka/nexzi/internal/config"
	"github.com/1ureka/nexzi/internal/media"
	"github.com/1ureka/nexzi/internal/negotiation"
	"github.com/1ureka/nexzi/internal/session"
	"github.com/1ureka/nexzi/internal/signaling"
	"github.com/1ureka/nexzi/internal/tips"
	"github.com/1ureka/nexzi/internal/util"
)

var version = "dev"

func main() {
	// Root context, cancelled on Ctrl+C.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := run(ctx); err != nil {
		util.LogError("%v", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	flags := pflag.NewFlagSet("nexzi", pflag.ContinueOnError)
	config.AddFlags(flags)
	flags.BoolP("help", "h", false, "show help")

	if err := flags.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if help, _ := flags.GetBool("help"); help {
		fmt.Fprintf(os.Stderr, "Usage: nexzi [flags]\n\n%s", flags.FlagUsages())
		return nil
	}

	path, _ := flags.GetString("config")
	cfg, err := config.Load(path, flags)
	if err != nil {
		return err
	}
	if cfg.Debug {
		util.EnableDebug()
	}

	pterm.Info.Println(fmt.Sprintf("Nexzi — v%s", version))
	pterm.Println()

	ch, err := openChannel(ctx, cfg)
	if err != nil {
		return err
	}
	defer ch.Close()

	mgr, err := session.New(ch,
		session.WithDialer(session.TransportDialer(cfg.Transport())),
		session.WithCapturer(&media.TestPattern{Prompt: confirmCapture}),
		session.WithBinding(media.NewCountingBinding()),
		session.WithCandidatePolicy(cfg.Variant),
		session.WithConflictPolicy(cfg.Conflict),
		session.WithConstraints(media.Constraints{Video: true, Audio: cfg.CaptureAudio, FrameRate: cfg.CaptureFPS}),
		session.WithGatherTimeout(cfg.GatherTimeout),
	)
	if err != nil {
		return err
	}
	defer mgr.Close()

	if cfg.StatsInterval > 0 {
		util.StartStatsReporter(ctx, cfg.StatsInterval)
	}

	help := newHelp(ctx, cfg.GeminiAPIKey)

	role := cfg.Role
	if role == config.RoleAsk {
		role = askRole(ctx, mgr, help)
	}

	switch {
	case role == config.RoleSharer && cfg.Variant == negotiation.BufferUntilGatheringComplete:
		err = runManualSharer(ctx, mgr)
	case role == config.RoleSharer:
		err = runSharer(ctx, mgr)
	case cfg.Variant == negotiation.BufferUntilGatheringComplete:
		err = runManualViewer(ctx, mgr)
	default:
		err = runViewer(ctx, mgr, cfg.Remote)
	}

	if errors.Is(err, context.Canceled) {
		err = nil
	}
	util.LogInfo("session closed")
	return err
}

// openChannel picks the signaling transport: Redis when configured, no
// network at all for manual codes, the relay otherwise.
func openChannel(ctx context.Context, cfg *config.Config) (signaling.Channel, error) {
	switch {
	case cfg.RedisAddr != "":
		ch, err := signaling.DialRedis(ctx, cfg.Redis())
		if err != nil {
			return nil, err
		}
		util.LogInfo("signaling over Redis at %s", cfg.RedisAddr)
		return ch, nil
	case cfg.Variant == negotiation.BufferUntilGatheringComplete:
		return signaling.NewMemoryBus(), nil
	}

	spinner, _ := pterm.DefaultSpinner.Start("Connecting to relay...")
	ch, err := signaling.DialWS(ctx, cfg.RelayURL)
	if err != nil {
		spinner.Fail(err.Error())
		return nil, err
	}
	spinner.Success("Connected to relay")
	return ch, nil
}

func newHelp(ctx context.Context, apiKey string) *tips.Service {
	if apiKey == "" {
		return tips.NewService(nil)
	}
	gen, err := tips.NewGemini(ctx, apiKey)
	if err != nil {
		util.LogWarning("%v", err)
		return tips.NewService(nil)
	}
	return tips.NewService(gen)
}

// ---------------------------------------------------------------------------
// Run modes
// ---------------------------------------------------------------------------

// runSharer waits for calls until Ctrl+C, one session at a time.
func runSharer(ctx context.Context, mgr *session.Manager) error {
	events, cancel := mgr.Lifecycle()
	defer cancel()

	for {
		showAddress(mgr.View().Local)
		pterm.Info.Println("Waiting for someone to connect. Press Ctrl+C to quit.")

		ev, err := waitEvent(ctx, events, session.IncomingCall)
		if err != nil {
			return err
		}

		accept, _ := pterm.DefaultInteractiveConfirm.
			WithDefaultText(fmt.Sprintf("Incoming call from %s. Accept?", ev.Remote.Format())).
			Show()
		pterm.Println()

		if !accept {
			if err := mgr.Reject(ctx); err != nil {
				util.LogWarning("%v", err)
			}
			continue
		}
		if err := mgr.Accept(ctx); err != nil {
			util.LogWarning("%v", err)
			continue
		}

		if err := followSession(ctx, events); err != nil {
			return err
		}
	}
}

// runViewer calls remote (asking for it if empty) and stays until the
// session ends.
func runViewer(ctx context.Context, mgr *session.Manager, remote address.Address) error {
	events, cancel := mgr.Lifecycle()
	defer cancel()

	for {
		if remote == "" {
			remote = askAddress()
		}
		if err := mgr.Connect(ctx, remote); err != nil {
			util.LogWarning("%s", message(err))
			remote = ""
			continue
		}

		pterm.Info.Printfln("Calling %s...", remote.Format())
		return followSession(ctx, events)
	}
}

// runManualSharer answers a pasted offer code with an answer code.
func runManualSharer(ctx context.Context, mgr *session.Manager) error {
	events, cancel := mgr.Lifecycle()
	defer cancel()

	for {
		code := askCode("Paste the viewer's offer code")
		if err := mgr.CreateAnswer(ctx, code); err != nil {
			util.LogWarning("%s", message(err))
			continue
		}
		break
	}

	v, err := waitView(ctx, mgr, func(v session.View) bool { return v.AnswerCode != "" || v.ErrorMessage != "" })
	if err != nil {
		return err
	}
	if v.AnswerCode == "" {
		return errors.New(v.ErrorMessage)
	}

	showCode("Your answer code: send it back to the viewer", v.AnswerCode)
	return waitEnd(ctx, events)
}

// runManualViewer shows an offer code and applies the pasted answer.
func runManualViewer(ctx context.Context, mgr *session.Manager) error {
	events, cancel := mgr.Lifecycle()
	defer cancel()

	if err := mgr.Connect(ctx, ""); err != nil {
		return err
	}

	spinner, _ := pterm.DefaultSpinner.Start("Gathering network candidates...")
	v, err := waitView(ctx, mgr, func(v session.View) bool { return v.OfferCode != "" || v.ErrorMessage != "" })
	if err != nil {
		spinner.Stop()
		return err
	}
	if v.OfferCode == "" {
		spinner.Fail(v.ErrorMessage)
		return errors.New(v.ErrorMessage)
	}
	spinner.Success("Offer ready")

	showCode("Your offer code: send it to the person sharing their screen", v.OfferCode)

	for {
		code := askCode("Paste the answer code")
		err := mgr.AcceptAnswer(ctx, code)
		if err == nil {
			break
		}
		var nerr *negotiation.Error
		if errors.As(err, &nerr) && nerr.Kind == negotiation.KindInvalidPayload {
			// a bad code tears the attempt down; start over
			util.LogWarning("%s", nerr.Message())
			return runManualViewer(ctx, mgr)
		}
		return err
	}

	util.LogSuccess("connected to %s", mgr.View().Remote.Format())
	return waitEnd(ctx, events)
}

// followSession reports progress until the current session ends. A
// failure is always followed by the disconnect of the failed session.
func followSession(ctx context.Context, events <-chan session.LifecycleEvent) error {
	failed := false
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			switch ev.Kind {
			case session.Connected:
				pterm.Success.Printfln("Connected to %s", ev.Remote.Format())
			case session.Failed:
				pterm.Error.Println(ev.Message)
				failed = true
			case session.Disconnected:
				if !failed {
					pterm.Info.Println("Session ended")
				}
				pterm.Println()
				return nil
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func waitEnd(ctx context.Context, events <-chan session.LifecycleEvent) error {
	pterm.Info.Println("Press Ctrl+C to end the session.")
	return followSession(ctx, events)
}

func waitEvent(ctx context.Context, events <-chan session.LifecycleEvent, kind session.LifecycleKind) (session.LifecycleEvent, error) {
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return ev, errors.New("session closed")
			}
			if ev.Kind == kind {
				return ev, nil
			}
		case <-ctx.Done():
			return session.LifecycleEvent{}, ctx.Err()
		}
	}
}

func waitView(ctx context.Context, mgr *session.Manager, cond func(session.View) bool) (session.View, error) {
	views, cancel := mgr.Subscribe()
	defer cancel()

	for {
		select {
		case v, ok := <-views:
			if !ok {
				return v, errors.New("session closed")
			}
			if cond(v) {
				return v, nil
			}
		case <-ctx.Done():
			return session.View{}, ctx.Err()
		}
	}
}

// ---------------------------------------------------------------------------
// Prompts
// ---------------------------------------------------------------------------

func askRole(ctx context.Context, mgr *session.Manager, help *tips.Service) config.Role {
	for {
		showAddress(mgr.View().Local)

		choice, _ := pterm.DefaultInteractiveSelect.
			WithOptions([]string{
				"Share  — Let someone view my screen",
				"View   — Connect to a remote screen",
				"Help   — What is my address?",
			}).
			WithDefaultText("What would you like to do").
			Show()
		pterm.Println()

		switch {
		case strings.HasPrefix(choice, "Share"):
			return config.RoleSharer
		case strings.HasPrefix(choice, "View"):
			return config.RoleViewer
		default:
			showTips(ctx, help)
		}
	}
}

// confirmCapture plays the part of the browser's screen-share dialog.
func confirmCapture(ctx context.Context) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	ok, err := pterm.DefaultInteractiveConfirm.
		WithDefaultText("Allow Nexzi to share your screen?").
		Show()
	pterm.Println()
	return ok, err
}

// askAddress prompts until a valid 9-digit address is entered.
func askAddress() address.Address {
	for {
		raw, _ := pterm.DefaultInteractiveTextInput.
			WithDefaultText("Remote address (e.g. 123 456 789)").
			Show()

		a, err := address.Parse(raw)
		if err == nil {
			pterm.Println()
			return a
		}

		pterm.Println()
		util.LogWarning("invalid address: please enter the 9 digits shown on the other device")
	}
}

func askCode(prompt string) string {
	for {
		raw, _ := pterm.DefaultInteractiveTextInput.
			WithDefaultText(prompt).
			Show()
		pterm.Println()

		if strings.TrimSpace(raw) != "" {
			return raw
		}
		util.LogWarning("the code is empty")
	}
}

func showAddress(a address.Address) {
	pterm.DefaultBox.
		WithTitle("Your address").
		WithTitleTopCenter().
		Println(pterm.Bold.Sprint(a.Format()))
	pterm.Println()
}

func showCode(title, code string) {
	pterm.DefaultSection.Println(title)
	fmt.Println(code)
	pterm.Println()
}

func showTips(ctx context.Context, help *tips.Service) {
	spinner, _ := pterm.DefaultSpinner.Start("Loading tips...")
	text := help.Fetch(ctx, tips.TopicSessionID)
	spinner.Stop()

	pterm.DefaultBox.WithTitle("How to Connect").Println(text)
	pterm.Println()
}

// message prefers the short user-facing text of negotiation errors.
func message(err error) string {
	var nerr *negotiation.Error
	if errors.As(err, &nerr) {
		return nerr.Message()
	}
	return err.Error()
}
