package session

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/dyluth/boardlink/internal/gamectx"
	"github.com/dyluth/boardlink/internal/listener"
	"github.com/dyluth/boardlink/internal/supervisor"
	"github.com/dyluth/boardlink/pkg/events"
)

// Status is the control-surface view of the session.
type Status struct {
	Running         bool   `json:"running"`
	GameInitialized bool   `json:"game_initialized"`
	Starting        bool   `json:"starting"`
	Message         string `json:"message"`
}

// Status reports whether processes are up and the game is initialized.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Status{
		Running:         s.processesUp(),
		GameInitialized: s.initialized,
		Starting:        s.starting,
		Message:         s.message,
	}
}

// processesUp is true when the primary process is alive, or when there are
// no managed processes and the game was started.
func (s *Session) processesUp() bool {
	primary := s.cfg.PrimaryProcess()
	if primary == "" {
		return s.initialized
	}
	return s.supervisor.IsRunning(primary)
}

// Start brings up the process group and then the game. It returns
// immediately; done, if not nil, receives the outcome exactly once. A Stop
// issued before the start completes cancels it.
func (s *Session) Start(ctx context.Context, done func(ok bool, message string)) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrNotRunning
	}
	if s.starting || s.initialized {
		s.mu.Unlock()
		return ErrAlreadyRunning
	}
	s.gen++
	gen := s.gen
	startCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.startCancel = cancel
	s.starting = true
	s.message = "starting processes"
	s.mu.Unlock()

	s.logs.Infof("Starting session %s", s.cfg.Session.Name)
	s.aggregator.SetStatus(gamectx.StatusStarting, "starting processes")

	go func() {
		defer cancel()
		_ = s.supervisor.StartAll(startCtx, func(ok bool, message string) {
			if ok {
				if err := s.startGame(gen); err != nil {
					ok, message = false, err.Error()
				}
			}
			s.finishStart(gen, ok, message)
			if done != nil {
				done(ok, message)
			}
		})
	}()
	return nil
}

func (s *Session) finishStart(gen uint64, ok bool, message string) {
	s.mu.Lock()
	current := s.gen == gen
	if current {
		s.starting = false
		s.message = message
		s.startCancel = nil
	}
	s.mu.Unlock()

	if !current {
		s.logs.Warnf("Session start abandoned: %s", message)
		return
	}
	if ok {
		s.logs.Successf("Session started: %s", message)
		s.logEvent("session_started", map[string]interface{}{"message": message})
		return
	}
	s.logs.Errorf("Session failed to start: %s", message)
	s.aggregator.SetStatus(gamectx.StatusError, message)
	s.logEvent("session_start_failed", map[string]interface{}{"message": message})
}

// startGame resets game state and launches the listener on behalf of start
// generation gen.
func (s *Session) startGame(gen uint64) error {
	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		return errStartCancelled
	}
	if s.initialized {
		s.mu.Unlock()
		return nil
	}
	gameCtx, cancel := context.WithCancel(context.Background())
	s.mu.Unlock()

	s.listener.Reset()
	s.aggregator.Reset()
	if err := s.listener.Start(gameCtx); err != nil && !errors.Is(err, listener.ErrAlreadyRunning) {
		cancel()
		return fmt.Errorf("failed to start listener: %w", err)
	}

	s.mu.Lock()
	if s.gen != gen {
		msg := s.message
		s.mu.Unlock()
		// Stopped while the listener came up.
		s.listener.Stop()
		cancel()
		s.listener.Reset()
		s.aggregator.Reset()
		s.aggregator.SetStatus(gamectx.StatusStopped, msg)
		return errStartCancelled
	}
	s.initialized = true
	s.gameCancel = cancel
	s.mu.Unlock()

	s.aggregator.SetStatus(gamectx.StatusRunning, "game initialized")
	s.publish(events.TypeServiceStarted, map[string]any{"service": "listener"})
	return nil
}

// stopGame stops the listener and clears all game state. It reports whether
// a game was running.
func (s *Session) stopGame(message string) bool {
	s.mu.Lock()
	wasRunning := s.initialized
	cancel := s.gameCancel
	s.initialized = false
	s.gameCancel = nil
	s.message = message
	s.mu.Unlock()

	s.listener.Stop()
	if cancel != nil {
		cancel()
	}
	s.listener.Reset()
	s.reader.Clear()
	s.aggregator.Reset()
	s.aggregator.SetStatus(gamectx.StatusStopped, message)

	if wasRunning {
		s.publish(events.TypeServiceStopped, map[string]any{"service": "listener", "reason": message})
	}
	return wasRunning
}

// Stop tears down the game and every managed process. It is safe to call
// repeatedly. ErrNotRunning means there was nothing to stop; teardown still
// ran and left the session ready for a fresh start.
func (s *Session) Stop(ctx context.Context) error {
	s.mu.Lock()
	s.gen++
	wasStarting := s.starting
	cancelStart := s.startCancel
	s.starting = false
	s.startCancel = nil
	s.mu.Unlock()
	if cancelStart != nil {
		cancelStart()
	}

	procsUp := s.supervisor.Running()
	gameUp := s.stopGame("stopped")

	err := s.supervisor.StopAll(ctx)
	if err != nil {
		s.logs.Errorf("Failed to stop some processes: %v", err)
		return err
	}

	if !procsUp && !gameUp && !wasStarting {
		return ErrNotRunning
	}
	s.logs.Infof("Session stopped")
	s.logEvent("session_stopped", map[string]interface{}{})
	return nil
}

// Restart rebuilds the game state from scratch. With restartProcesses the
// process group is stopped and started again too; done follows Start.
func (s *Session) Restart(ctx context.Context, restartProcesses bool, done func(ok bool, message string)) error {
	if restartProcesses {
		if err := s.Stop(ctx); err != nil && !errors.Is(err, ErrNotRunning) {
			return err
		}
		return s.Start(ctx, done)
	}

	s.stopGame("restarting")
	s.mu.Lock()
	gen := s.gen
	s.mu.Unlock()
	err := s.startGame(gen)
	msg := "game restarted"
	if err != nil {
		msg = err.Error()
	}
	s.mu.Lock()
	s.message = msg
	s.mu.Unlock()
	if done != nil {
		done(err == nil, msg)
	}
	return err
}

// ContextView returns the current context with its status derived from the
// session: stopped when nothing runs, starting until the first game state
// has been seen, error when the last snapshot write failed.
func (s *Session) ContextView() *gamectx.Context {
	cur := s.aggregator.Current()
	view := *cur

	st := s.Status()
	switch {
	case !st.GameInitialized && st.Starting:
		view.Status = gamectx.StatusStarting
		view.Message = st.Message
	case !st.GameInitialized:
		if cur.Status != gamectx.StatusError {
			view.Status = gamectx.StatusStopped
		}
		if view.Message == "" {
			view.Message = st.Message
		}
	case s.aggregator.LastPersistError() != nil:
		view.Status = gamectx.StatusError
		view.Message = fmt.Sprintf("context not persisted: %v", s.aggregator.LastPersistError())
	case !hasGameState(cur):
		view.Status = gamectx.StatusStarting
		view.Message = "waiting for game state"
	default:
		view.Status = gamectx.StatusRunning
	}
	return &view
}

func hasGameState(c *gamectx.Context) bool {
	return len(c.Players) > 0 || len(c.Board) > 0 || len(c.Messages) > 0 || c.CurrentTurn != 0
}

// Players returns the current players in id order.
func (s *Session) Players() ([]gamectx.Player, error) {
	if !s.Status().GameInitialized {
		return nil, ErrNotRunning
	}
	return s.aggregator.Current().SortedPlayers(), nil
}

// UpdatePlayer applies an administrative override. The change reaches the
// context through the listener on its next player refresh.
func (s *Session) UpdatePlayer(o listener.PlayerOverride) error {
	if !s.Status().GameInitialized {
		return ErrNotRunning
	}
	if _, ok := s.aggregator.Current().Players[o.ID]; !ok {
		return fmt.Errorf("%w: %d", ErrUnknownPlayer, o.ID)
	}
	s.reader.SetPlayer(o)
	s.logs.Infof("Updated player %d", o.ID)
	return nil
}

// RunWatchdog watches managed processes until ctx is done. When the primary
// process dies the game is reset and the session returns to stopped.
func (s *Session) RunWatchdog(ctx context.Context) {
	s.supervisor.Watch(ctx, s.cfg.Supervisor.WatchdogIntervalDuration(), s.handleExit)
}

func (s *Session) handleExit(mp supervisor.ManagedProcess) {
	s.publish(events.TypeProcessExited, map[string]any{
		"process": mp.Name,
		"pid":     mp.PID,
		"id":      mp.ID,
	})

	if mp.Name != s.cfg.PrimaryProcess() {
		s.logs.Warnf("Process %s exited unexpectedly", mp.Name)
		return
	}

	msg := fmt.Sprintf("%s exited unexpectedly", mp.Name)
	s.logs.Warnf("%s, game state cleared", msg)
	s.stopGame(msg)
	s.logEvent("primary_exited", map[string]interface{}{"process": mp.Name, "pid": mp.PID})
}

// Close stops everything and releases every resource. The session cannot be
// started again.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	var errs []error
	if s.supervisor != nil {
		if err := s.Stop(context.Background()); err != nil && !errors.Is(err, ErrNotRunning) {
			errs = append(errs, err)
		}
	}
	if s.popups != nil {
		s.popups.Stop()
	}
	if s.policy != nil {
		s.policy.Detach()
	}
	if s.aggregator != nil {
		s.aggregator.Stop()
		s.aggregator.Close()
	}
	s.closeMirror()
	s.bus.Close()
	if s.history != nil {
		if err := s.history.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *Session) publish(t events.Type, data map[string]any) {
	if _, err := s.bus.Publish(t, data, source); err != nil && !errors.Is(err, events.ErrBusClosed) {
		log.Printf("[WARN] [Session] Failed to publish %s: %v", t, err)
	}
}
