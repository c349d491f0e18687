package main

import (
	"context"
	"fmt"

	"github.com/wailsapp/wails/v2/pkg/runtime"

	"voicecrm/internal/bootstrap"
	"voicecrm/internal/config"
	"voicecrm/internal/crm"
	"voicecrm/internal/domain"
	"voicecrm/internal/usecase"
)

const (
	eventSession = "voicecrm:session"
	eventEntry   = "voicecrm:entry"
	eventError   = "voicecrm:error"
)

// App is the Wails application root.
type App struct {
	ctx context.Context

	controller *usecase.SessionController
	crm        *crm.Client
	cfg        *config.Config
	bootErr    error
}

func NewApp() *App {
	return &App{}
}

func (a *App) startup(ctx context.Context) {
	a.ctx = ctx

	services, err := bootstrap.Build(config.DefaultPath(), a)
	if err != nil {
		a.bootErr = err
		a.SessionError(domain.ErrorCodeStartup, err.Error())
		return
	}

	a.cfg = services.Config
	a.controller = services.Controller
	a.crm = services.CRM
	a.SessionStateChanged(domain.SessionStateIdle, domain.SessionReasonBoot)
}

func (a *App) shutdown(_ context.Context) {
	if a.controller != nil {
		_ = a.controller.Stop()
	}
}

// StartVoice begins a voice session against the CRM agent.
func (a *App) StartVoice() (domain.Status, error) {
	if err := a.requireReady(); err != nil {
		return domain.Status{}, err
	}
	if err := a.controller.Start(a.ctx); err != nil {
		return domain.Status{}, err
	}
	return a.controller.Status(), nil
}

// StopVoice ends the current voice session. Calling it with no session
// running is harmless.
func (a *App) StopVoice() (domain.Status, error) {
	if err := a.requireReady(); err != nil {
		return domain.Status{}, err
	}
	if err := a.controller.Stop(); err != nil {
		return domain.Status{}, err
	}
	return a.controller.Status(), nil
}

// ToggleMute flips the microphone mute flag and returns the new value.
func (a *App) ToggleMute() (bool, error) {
	if err := a.requireReady(); err != nil {
		return false, err
	}
	return a.controller.ToggleMute()
}

// GetStatus returns the current session status.
func (a *App) GetStatus() domain.Status {
	if a.controller == nil {
		if a.bootErr != nil {
			return domain.Status{State: domain.SessionStateError, Active: false, Message: a.bootErr.Error()}
		}
		return domain.Status{State: domain.SessionStateIdle, Active: false}
	}
	return a.controller.Status()
}

// GetConversation returns the transcript history in order.
func (a *App) GetConversation() []domain.ConversationEntry {
	if a.controller == nil {
		return nil
	}
	return a.controller.Conversation()
}

// GetInputLevel returns the current microphone energy for the waveform view.
func (a *App) GetInputLevel() float64 {
	if a.controller == nil {
		return 0
	}
	return a.controller.InputLevel()
}

// GetRuntimeInfo returns non-sensitive config for the UI.
func (a *App) GetRuntimeInfo() map[string]string {
	if a.bootErr != nil {
		return map[string]string{"error": a.bootErr.Error()}
	}
	if a.cfg == nil {
		return map[string]string{}
	}

	return map[string]string{
		"server":       a.cfg.Server.Host,
		"audioBackend": a.cfg.Audio.Backend,
		"sampleRate":   fmt.Sprintf("%d", a.cfg.Audio.SampleRate),
		"audioInput":   a.cfg.Audio.InputDevice,
	}
}

// Login authenticates against the CRM backend.
func (a *App) Login(email string, password string) (crm.User, error) {
	if err := a.requireReady(); err != nil {
		return crm.User{}, err
	}
	user, err := a.crm.Login(a.ctx, email, password)
	if err != nil {
		a.SessionError(domain.ErrorCodeAuth, err.Error())
		return crm.User{}, err
	}
	return user, nil
}

// Register creates a CRM account.
func (a *App) Register(email string, password string, username string) (crm.User, error) {
	if err := a.requireReady(); err != nil {
		return crm.User{}, err
	}
	user, err := a.crm.Register(a.ctx, email, password, username)
	if err != nil {
		a.SessionError(domain.ErrorCodeAuth, err.Error())
		return crm.User{}, err
	}
	return user, nil
}

// Logout ends the CRM session and stops any running voice session.
func (a *App) Logout() error {
	if err := a.requireReady(); err != nil {
		return err
	}
	_ = a.controller.Stop()
	return a.crm.Logout(a.ctx)
}

// CheckAuth reports whether the stored CRM session is still valid.
func (a *App) CheckAuth() (bool, error) {
	if err := a.requireReady(); err != nil {
		return false, err
	}
	ok, _, err := a.crm.CheckAuth(a.ctx)
	return ok, err
}

func (a *App) requireReady() error {
	if a.bootErr != nil {
		return a.bootErr
	}
	if a.controller == nil {
		return fmt.Errorf("application is not initialized")
	}
	return nil
}

// SessionStateChanged emits session lifecycle updates to the frontend.
func (a *App) SessionStateChanged(state domain.SessionState, reason domain.SessionStateReason) {
	if a.ctx == nil {
		return
	}
	runtime.EventsEmit(a.ctx, eventSession, map[string]string{
		"state":   string(state),
		"reason":  string(reason),
		"message": sessionReasonMessage(reason),
	})
}

// ConversationAppended emits a new transcript entry to the frontend.
func (a *App) ConversationAppended(entry domain.ConversationEntry) {
	if a.ctx == nil {
		return
	}
	runtime.EventsEmit(a.ctx, eventEntry, entry)
}

// SessionError emits backend errors to the UI.
func (a *App) SessionError(code domain.ErrorCode, detail string) {
	if a.ctx == nil {
		return
	}
	runtime.EventsEmit(a.ctx, eventError, map[string]string{
		"code":    string(code),
		"message": errorMessage(code, detail),
		"detail":  detail,
	})
}

func sessionReasonMessage(reason domain.SessionStateReason) string {
	switch reason {
	case domain.SessionReasonBoot:
		return "Ready"
	case domain.SessionReasonSessionStarted:
		return "Connecting to the voice agent..."
	case domain.SessionReasonConnected:
		return "Listening"
	case domain.SessionReasonStoppedByUser:
		return "Session ended"
	case domain.SessionReasonConnectFailed:
		return "Could not reach the voice agent"
	case domain.SessionReasonConnectionLost:
		return "Connection to the voice agent was lost"
	case domain.SessionReasonCaptureFailed:
		return "Microphone unavailable"
	case domain.SessionReasonPlaybackFailed:
		return "Audio output unavailable"
	default:
		return ""
	}
}

func errorMessage(code domain.ErrorCode, detail string) string {
	switch code {
	case domain.ErrorCodeStartup:
		return "Startup failed"
	case domain.ErrorCodeCapture:
		return "Microphone error"
	case domain.ErrorCodeTransport:
		return "Voice connection error"
	case domain.ErrorCodePlayback:
		return "Audio playback error"
	case domain.ErrorCodeAuth:
		return "Authentication failed"
	default:
		if detail == "" {
			return "Unknown error"
		}
		return detail
	}
}
