package sos

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/guardianlink/guardian/internal/ai"
	"github.com/guardianlink/guardian/internal/db"
	"github.com/guardianlink/guardian/internal/dispatch"
	"github.com/guardianlink/guardian/internal/events"
	"github.com/guardianlink/guardian/internal/media"
	"github.com/guardianlink/guardian/internal/metrics"
	"github.com/guardianlink/guardian/internal/redis"
)

// Trigger sources, used for metrics and alert provenance.
const (
	SourceManual = "manual"
	SourceVoice  = "voice"
)

// Store is the persistence surface the orchestrator needs.
type Store interface {
	ListContacts(ctx context.Context, deviceID string) ([]*db.Contact, error)
	CreateAlert(ctx context.Context, alert *db.EmergencyAlert) error
}

// Settings loads the per-device channel configuration.
type Settings interface {
	Load(ctx context.Context, deviceID string) (*redis.GuardianState, error)
}

// Dispatcher fans an emergency message out across channels.
type Dispatcher interface {
	Dispatch(ctx context.Context, req *dispatch.Request) *dispatch.Result
}

// Composer writes the emergency message.
type Composer interface {
	Compose(ctx context.Context, input ai.ComposeInput) ai.ComposeResult
}

// Classifier decides whether an audio event description signals distress.
type Classifier interface {
	Classify(ctx context.Context, audioEventDescription string) (*ai.Detection, error)
}

// Publisher pushes alert events to the responder feed.
type Publisher interface {
	PublishAlert(ctx context.Context, eventType string, alert *db.EmergencyAlert) (string, error)
}

// TriggerInput describes one SOS activation.
type TriggerInput struct {
	DeviceID     string
	Lat          float64
	Lng          float64
	Reason       string // detected keyword, empty for a manual press
	AudioDataURI string
	PhotoDataURI string
	Source       string
}

// TriggerOutput is the recorded alert plus the raw dispatch outcome.
type TriggerOutput struct {
	Alert    *db.EmergencyAlert
	Dispatch *dispatch.Result
}

// SimulateInput describes one voice-monitoring check. Coordinates are the
// device's current position, carried into the trigger on a distress verdict.
type SimulateInput struct {
	DeviceID string
	Lat      float64
	Lng      float64
	Sounds   string
}

// SimulateOutput reports a monitoring simulation run. Triggered is false
// when the classifier heard nothing alarming.
type SimulateOutput struct {
	Triggered bool
	Detection *ai.Detection
	Result    *TriggerOutput
}

// Service orchestrates the SOS flow: compose, dispatch, record, publish.
type Service struct {
	store      Store
	settings   Settings
	dispatcher Dispatcher
	composer   Composer
	classifier Classifier
	publisher  Publisher
	logger     *zap.Logger
}

// New creates the orchestrator. settings and publisher may be nil; the
// flow degrades to empty channel settings and no responder feed.
func New(store Store, settings Settings, dispatcher Dispatcher, composer Composer, classifier Classifier, publisher Publisher, logger *zap.Logger) *Service {
	return &Service{
		store:      store,
		settings:   settings,
		dispatcher: dispatcher,
		composer:   composer,
		classifier: classifier,
		publisher:  publisher,
		logger:     logger,
	}
}

// Trigger runs the full SOS pipeline. The alert is recorded whatever the
// dispatch outcome; an SOS that reached nobody still belongs in history.
func (s *Service) Trigger(ctx context.Context, input TriggerInput) (*TriggerOutput, error) {
	source := input.Source
	if source == "" {
		source = SourceManual
	}
	metrics.RecordSOSTrigger(source)

	locationLink := fmt.Sprintf("https://www.google.com/maps?q=%v,%v", input.Lat, input.Lng)

	audioBlob := s.decodeBlob(input.AudioDataURI, "audio")
	photoBlob := s.decodeBlob(input.PhotoDataURI, "photo")

	keyword := input.Reason
	if keyword == "" {
		keyword = "MANUAL SOS"
	}

	audioDescription := input.Reason
	if audioBlob != nil {
		if input.Reason != "" {
			audioDescription = input.Reason + " (Audio recording captured)"
		} else {
			audioDescription = "Emergency trigger (Audio recording captured)"
		}
	}

	composed := s.composer.Compose(ctx, ai.ComposeInput{
		LocationLink:     locationLink,
		DetectedKeywords: []string{keyword},
		AudioDescription: audioDescription,
	})
	if composed.Fallback {
		metrics.RecordComposeFallback()
	}

	state := s.loadState(ctx, input.DeviceID)

	contacts, err := s.store.ListContacts(ctx, input.DeviceID)
	if err != nil {
		s.logger.Error("failed to load emergency contacts",
			zap.Error(err),
			zap.String("device_id", input.DeviceID),
		)
		contacts = nil
	}
	phones := make([]string, 0, len(contacts))
	for _, c := range contacts {
		phones = append(phones, c.Phone)
	}

	result := s.dispatcher.Dispatch(ctx, &dispatch.Request{
		RecipientPhones:  phones,
		Message:          composed.Message,
		WebhookURL:       state.FreeChannelURL,
		TelegramBotToken: state.TelegramBotToken,
		TelegramChatID:   state.TelegramChatID,
		Audio:            audioBlob,
		Photo:            photoBlob,
	})

	alert := &db.EmergencyAlert{
		ID:        uuid.New(),
		DeviceID:  input.DeviceID,
		Timestamp: time.Now().UnixMilli(),
		Lat:       input.Lat,
		Lng:       input.Lng,
		Status:    db.AlertStatusSent,
		Message:   composed.Message,
	}
	if result.Channel != "" {
		channel := string(result.Channel)
		alert.ChannelUsed = &channel
	}
	if audioBlob != nil {
		alert.AudioClipURL = &input.AudioDataURI
	}
	if photoBlob != nil {
		alert.PhotoURL = &input.PhotoDataURI
	}

	if err := s.store.CreateAlert(ctx, alert); err != nil {
		s.logger.Error("failed to record alert",
			zap.Error(err),
			zap.String("device_id", input.DeviceID),
		)
		return nil, fmt.Errorf("failed to record alert: %w", err)
	}

	s.publish(ctx, alert)

	s.logger.Info("sos dispatched",
		zap.String("alert_id", alert.ID.String()),
		zap.String("device_id", input.DeviceID),
		zap.Bool("success", result.Success),
		zap.Int("sent_count", result.SentCount),
		zap.String("channel", string(result.Channel)),
	)

	return &TriggerOutput{Alert: alert, Dispatch: result}, nil
}

// Simulate feeds an ambient sound description through the distress
// classifier and triggers the full pipeline on a positive verdict.
// Classification failures surface to the caller; there is no silent
// default verdict.
func (s *Service) Simulate(ctx context.Context, input SimulateInput) (*SimulateOutput, error) {
	state := s.loadState(ctx, input.DeviceID)
	if !state.IsMonitoring {
		return nil, ErrMonitoringOff
	}

	detection, err := s.classifier.Classify(ctx, input.Sounds)
	if err != nil {
		metrics.RecordClassifierError()
		return nil, err
	}

	if !detection.IsDistressDetected {
		s.logger.Info("simulation heard no distress",
			zap.String("device_id", input.DeviceID),
			zap.String("sounds", input.Sounds),
		)
		return &SimulateOutput{Detection: detection}, nil
	}

	out, err := s.Trigger(ctx, TriggerInput{
		DeviceID: input.DeviceID,
		Lat:      input.Lat,
		Lng:      input.Lng,
		Reason:   detection.DetectedReason,
		Source:   SourceVoice,
	})
	if err != nil {
		return nil, err
	}

	return &SimulateOutput{Triggered: true, Detection: detection, Result: out}, nil
}

// decodeBlob decodes a media capture. A bad blob is dropped with a log:
// media loss must never block an SOS.
func (s *Service) decodeBlob(dataURI, kind string) *media.Blob {
	if dataURI == "" {
		return nil
	}
	blob, err := media.Decode(dataURI)
	if err != nil {
		s.logger.Warn("dropping malformed media capture",
			zap.Error(err),
			zap.String("kind", kind),
		)
		return nil
	}
	return blob
}

func (s *Service) loadState(ctx context.Context, deviceID string) *redis.GuardianState {
	if s.settings == nil {
		return &redis.GuardianState{}
	}
	state, err := s.settings.Load(ctx, deviceID)
	if err != nil {
		s.logger.Error("failed to load channel settings",
			zap.Error(err),
			zap.String("device_id", deviceID),
		)
		return &redis.GuardianState{}
	}
	return state
}

func (s *Service) publish(ctx context.Context, alert *db.EmergencyAlert) {
	if s.publisher == nil {
		return
	}
	if _, err := s.publisher.PublishAlert(ctx, events.EventAlertTriggered, alert); err != nil {
		s.logger.Warn("responder feed publish failed",
			zap.Error(err),
			zap.String("alert_id", alert.ID.String()),
		)
	}
}
