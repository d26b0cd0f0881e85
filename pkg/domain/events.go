package domain

// EventType identifies a core callback event.
type EventType string

const (
	EventPropertyChanged             EventType = "property_changed"
	EventExposureChanged             EventType = "exposure_changed"
	EventSystemConfigurationLoaded   EventType = "system_configuration_loaded"
	EventSequenceAcquisitionStarted  EventType = "sequence_acquisition_started"
	EventSequenceAcquisitionStopped  EventType = "sequence_acquisition_stopped"
	EventShutdownCommencing          EventType = "shutdown_commencing"
	EventCircularBufferFrameOverflow EventType = "circular_buffer_frame_overflow"
)

// CoreEvent is a single callback notification from the core.
type CoreEvent struct {
	Type EventType `msgpack:"type"`

	// Device and Property are set for property-scoped events.
	Device   string `msgpack:"device,omitempty"`
	Property string `msgpack:"property,omitempty"`
	Value    string `msgpack:"value,omitempty"`
}
