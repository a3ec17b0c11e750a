// Copyright 2024 The zk-ceremony-coordinator Authors. SPDX-License-Identifier: LGPL-3.0-only.

// Package ceremony holds the data model shared by every coordination
// component: Ceremony, Circuit, Participant, Contribution and Timeout.
// These are plain records; the Record Store Adapter (store/record) is the
// only place that persists or mutates them.
package ceremony

import "time"

// CeremonyState is the lifecycle of a Ceremony.
type CeremonyState string

const (
	CeremonyScheduled CeremonyState = "SCHEDULED"
	CeremonyOpened    CeremonyState = "OPENED"
	CeremonyClosed    CeremonyState = "CLOSED"
	CeremonyFinalized CeremonyState = "FINALIZED"
)

// CircuitProtocol distinguishes the SNARK construction a ceremony drives.
// Only Groth16Phase2 is implemented end to end; PlonkPhase1 exists in the
// data model for forward compatibility and is rejected at SetupCeremony.
type CircuitProtocol string

const (
	Groth16Phase2 CircuitProtocol = "GROTH16_PHASE2"
	PlonkPhase1   CircuitProtocol = "PLONK_PHASE1"
)

// TimeoutMechanism selects how a circuit's per-contribution budget is
// computed by the Timeout Controller.
type TimeoutMechanism string

const (
	TimeoutDynamic TimeoutMechanism = "DYNAMIC"
	TimeoutFixed   TimeoutMechanism = "FIXED"
)

// Ceremony is the global coordination unit.
type Ceremony struct {
	ID                   string           `bson:"_id" json:"id"`
	Prefix               string           `bson:"prefix" json:"prefix"`
	Title                string           `bson:"title" json:"title"`
	Description          string           `bson:"description" json:"description"`
	StartDate            int64            `bson:"startDate" json:"startDate"`
	EndDate              int64            `bson:"endDate" json:"endDate"`
	State                CeremonyState    `bson:"state" json:"state"`
	Type                 CircuitProtocol  `bson:"type" json:"type"`
	CoordinatorID        string           `bson:"coordinatorId" json:"coordinatorId"`
	TimeoutMechanismType TimeoutMechanism `bson:"timeoutMechanismType" json:"timeoutMechanismType"`
	PenaltyMinutes       int              `bson:"penalty" json:"penalty"`
}

// AvgTimings holds the circuit's running-average duration samples, all in
// milliseconds.
type AvgTimings struct {
	FullContribution        int64 `bson:"fullContribution" json:"fullContribution"`
	VerifyCloudFunction     int64 `bson:"verifyCloudFunction" json:"verifyCloudFunction"`
	ContributionComputation int64 `bson:"contributionComputation" json:"contributionComputation"`
}

// WaitingQueue is a circuit's FIFO admission queue and attempt counters.
type WaitingQueue struct {
	Contributors           []string `bson:"contributors" json:"contributors"`
	CurrentContributor     string   `bson:"currentContributor" json:"currentContributor"`
	CompletedContributions int64    `bson:"completedContributions" json:"completedContributions"`
	FailedContributions    int64    `bson:"failedContributions" json:"failedContributions"`
}

// CircuitFiles records the object-store paths and BLAKE2b hashes of a
// circuit's static inputs.
type CircuitFiles struct {
	R1csStoragePath     string `bson:"r1csStoragePath" json:"r1csStoragePath"`
	WasmStoragePath     string `bson:"wasmStoragePath" json:"wasmStoragePath"`
	InitialZkeyPath     string `bson:"initialZkeyStoragePath" json:"initialZkeyStoragePath"`
	PotStoragePath      string `bson:"potStoragePath" json:"potStoragePath"`
	InitialZkeyBlake2b  string `bson:"initialZkeyBlake2bHash" json:"initialZkeyBlake2bHash"`
}

// CircuitMetadata carries the circuit's static statistics, used only for
// display and for computing the powers-of-tau file to fetch.
type CircuitMetadata struct {
	Wires       int64 `bson:"wires" json:"wires"`
	Constraints int64 `bson:"constraints" json:"constraints"`
	PowersOfTau int64 `bson:"pot" json:"pot"`
}

// Circuit is a single zk-SNARK circuit being collectively updated, a child
// of a Ceremony.
type Circuit struct {
	ID               string           `bson:"_id" json:"id"`
	CeremonyID       string           `bson:"ceremonyId" json:"ceremonyId"`
	Prefix           string           `bson:"prefix" json:"prefix"`
	SequencePosition int              `bson:"sequencePosition" json:"sequencePosition"`
	Metadata         CircuitMetadata  `bson:"metadata" json:"metadata"`
	Files            CircuitFiles     `bson:"files" json:"files"`
	AvgTimings       AvgTimings       `bson:"avgTimings" json:"avgTimings"`
	WaitingQueue     WaitingQueue     `bson:"waitingQueue" json:"waitingQueue"`
	TimeoutMechanism TimeoutMechanism `bson:"timeoutMechanismType" json:"timeoutMechanismType"`
	DynamicThreshold float64          `bson:"dynamicThreshold,omitempty" json:"dynamicThreshold,omitempty"`
	FixedTimeWindow  int64            `bson:"fixedTimeWindow,omitempty" json:"fixedTimeWindow,omitempty"`
}

// ParticipantStatus is the outer state of the Participant State Machine.
type ParticipantStatus string

const (
	ParticipantCreated     ParticipantStatus = "CREATED"
	ParticipantWaiting     ParticipantStatus = "WAITING"
	ParticipantReady       ParticipantStatus = "READY"
	ParticipantContributing ParticipantStatus = "CONTRIBUTING"
	ParticipantContributed ParticipantStatus = "CONTRIBUTED"
	ParticipantDone        ParticipantStatus = "DONE"
	ParticipantFinalizing  ParticipantStatus = "FINALIZING"
	ParticipantFinalized   ParticipantStatus = "FINALIZED"
	ParticipantTimedOut    ParticipantStatus = "TIMEDOUT"
	ParticipantExhumed     ParticipantStatus = "EXHUMED"
)

// ContributionStep is the inner per-circuit sub-state.
type ContributionStep string

const (
	StepDownloading ContributionStep = "DOWNLOADING"
	StepComputing   ContributionStep = "COMPUTING"
	StepUploading   ContributionStep = "UPLOADING"
	StepVerifying   ContributionStep = "VERIFYING"
	StepCompleted   ContributionStep = "COMPLETED"
)

// ContributionRef is one entry in a participant's ordered contribution
// history.
type ContributionRef struct {
	ContributionID  string `bson:"doc" json:"doc"`
	ComputationTime int64  `bson:"computationTime" json:"computationTime"`
	Hash            string `bson:"hash" json:"hash"`
}

// UploadedPart is one completed multipart-upload chunk.
type UploadedPart struct {
	ETag       string `bson:"ETag" json:"ETag"`
	PartNumber int32  `bson:"PartNumber" json:"PartNumber"`
}

// TempContributionData is the server-side resumable-upload scratch state.
type TempContributionData struct {
	ContributionComputationTime int64          `bson:"contributionComputationTime" json:"contributionComputationTime"`
	UploadID                    string         `bson:"uploadId" json:"uploadId"`
	Chunks                      []UploadedPart `bson:"chunks" json:"chunks"`
}

// Participant is a per-(ceremony, user) document driving that user's
// contributions.
type Participant struct {
	ID                    string                `bson:"_id" json:"id"`
	CeremonyID            string                `bson:"ceremonyId" json:"ceremonyId"`
	Status                ParticipantStatus     `bson:"status" json:"status"`
	ContributionProgress  int                   `bson:"contributionProgress" json:"contributionProgress"`
	ContributionStep      ContributionStep      `bson:"contributionStep,omitempty" json:"contributionStep,omitempty"`
	Contributions         []ContributionRef     `bson:"contributions" json:"contributions"`
	ContributionStartedAt int64                 `bson:"contributionStartedAt,omitempty" json:"contributionStartedAt,omitempty"`
	VerificationStartedAt int64                 `bson:"verificationStartedAt,omitempty" json:"verificationStartedAt,omitempty"`
	TempContributionData  TempContributionData  `bson:"tempContributionData,omitempty" json:"tempContributionData,omitempty"`
}

// ContributionFiles names the artifacts a single Contribution produced.
type ContributionFiles struct {
	LastZkeyFilename       string `bson:"lastZkeyFilename" json:"lastZkeyFilename"`
	LastZkeyStoragePath    string `bson:"lastZkeyStoragePath" json:"lastZkeyStoragePath"`
	LastZkeyBlake2bHash    string `bson:"lastZkeyBlake2bHash" json:"lastZkeyBlake2bHash"`
	TranscriptFilename     string `bson:"transcriptFilename" json:"transcriptFilename"`
	TranscriptStoragePath  string `bson:"transcriptStoragePath" json:"transcriptStoragePath"`
	TranscriptBlake2bHash  string `bson:"transcriptBlake2bHash" json:"transcriptBlake2bHash"`
	VerificationKeyPath    string `bson:"verificationKeyStoragePath,omitempty" json:"verificationKeyStoragePath,omitempty"`
	VerifierContractPath   string `bson:"verifierContractStoragePath,omitempty" json:"verifierContractStoragePath,omitempty"`
}

// Beacon is the public randomness used for the final, deterministic
// contribution of a circuit.
type Beacon struct {
	Value string `bson:"value" json:"value"`
	Hash  string `bson:"hash" json:"hash"`
}

// Contribution is one accepted (valid or invalid) attempt against a
// circuit, a child of that Circuit.
type Contribution struct {
	ID                         string             `bson:"_id" json:"id"`
	CircuitID                  string             `bson:"circuitId" json:"circuitId"`
	ParticipantID              string             `bson:"participantId" json:"participantId"`
	ZkeyIndex                  string             `bson:"zkeyIndex" json:"zkeyIndex"`
	ContributionComputationTime int64             `bson:"contributionComputationTime" json:"contributionComputationTime"`
	VerificationComputationTime int64             `bson:"verificationComputationTime" json:"verificationComputationTime"`
	Files                      ContributionFiles  `bson:"files" json:"files"`
	Valid                      bool               `bson:"valid" json:"valid"`
	Beacon                     *Beacon            `bson:"beacon,omitempty" json:"beacon,omitempty"`
	CreatedAt                  time.Time          `bson:"createdAt" json:"createdAt"`
}

// IsFinal reports whether this is a circuit's terminal beacon contribution.
func (c *Contribution) IsFinal() bool { return c.ZkeyIndex == FinalZkeyIndex }

// FinalZkeyIndex is the literal zkeyIndex value used for a circuit's
// finalization (beacon) contribution, per spec §3.
const FinalZkeyIndex = "final"

// TimeoutType distinguishes why a Timeout was recorded.
type TimeoutType string

const (
	TimeoutBlockingContribution   TimeoutType = "BLOCKING_CONTRIBUTION"
	TimeoutBlockingCloudFunction  TimeoutType = "BLOCKING_CLOUD_FUNCTION"
)

// Timeout is a penalty interval recorded against a Participant after an
// eviction, a child of that Participant.
type Timeout struct {
	ID        string      `bson:"_id" json:"id"`
	ParticipantID string  `bson:"participantId" json:"participantId"`
	StartDate int64       `bson:"startDate" json:"startDate"`
	EndDate   int64       `bson:"endDate" json:"endDate"`
	Type      TimeoutType `bson:"type" json:"type"`
}

// Active reports whether the timeout still blocks its participant at the
// given instant (endDate > now, per spec §3's invariant).
func (t *Timeout) Active(now time.Time) bool {
	return t.EndDate > now.UnixMilli()
}
