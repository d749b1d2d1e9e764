package wire

// Role distinguishes a producer attach from a consumer attach.
type Role uint8

const (
	RoleProducer Role = 1
	RoleConsumer Role = 2
)

// PublishMode controls whether an attach may create a stream profile that
// does not yet exist, per spec.md §4.3.
type PublishMode uint8

const (
	PublishCreateOnly      PublishMode = 1
	PublishExistingOnly    PublishMode = 2
	PublishExistingOrCreate PublishMode = 3
)

// HugepagesPolicy selects the shared-memory page size policy for an
// attach, per spec.md §4.2.
type HugepagesPolicy uint8

const (
	HugepagesDefault  HugepagesPolicy = 0
	HugepagesStandard HugepagesPolicy = 1
	HugepagesRequire  HugepagesPolicy = 2
)

// ResponseCode is the outcome of an AttachResponse/DetachResponse, per
// spec.md §7's error kinds.
type ResponseCode uint8

const (
	CodeOK       ResponseCode = 0
	CodeRejected ResponseCode = 1
	CodeInvalid  ResponseCode = 2
	CodeTimeout  ResponseCode = 3
	CodeInternal ResponseCode = 4
)

// RevokeReason labels why a lease was revoked.
type RevokeReason uint8

const (
	RevokeExpired RevokeReason = 1
	RevokeRevoked RevokeReason = 2
)

// ShutdownReason labels why the driver is shutting down.
type ShutdownReason uint8

const (
	ShutdownRequested ShutdownReason = 1
	ShutdownFault     ShutdownReason = 2
)

// ProgressState is the lifecycle of an in-flight frame, per spec.md §4.1.
type ProgressState uint8

const (
	ProgressStarted  ProgressState = 1
	ProgressInFlight ProgressState = 2
	ProgressComplete ProgressState = 3
	ProgressCanceled ProgressState = 4
)

// SequenceRuleType is a join-barrier sequence rule kind, per spec.md §4.5.
type SequenceRuleType uint8

const (
	SequenceRuleOffset SequenceRuleType = 1
	SequenceRuleWindow SequenceRuleType = 2
)

// TimestampRuleType is a join-barrier timestamp rule kind, per spec.md §4.5.
type TimestampRuleType uint8

const (
	TimestampRuleOffsetNs TimestampRuleType = 1
	TimestampRuleWindowNs TimestampRuleType = 2
)

// TimestampSource distinguishes which clock an input's timestamp came
// from, used for the clock-domain mismatch check in spec.md §4.5.
type TimestampSource uint8

const (
	TimestampSourceProducerMono TimestampSource = 1
	TimestampSourceWallClock    TimestampSource = 2
)
