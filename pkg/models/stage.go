package models

// Stage is a state of the pipeline state machine.
type Stage string

const (
	StageValidating          Stage = "validating"
	StageAwaitingToolchain   Stage = "awaiting_toolchain"
	StagePreparingScratch    Stage = "preparing_scratch"
	StageDownloading         Stage = "downloading"
	StageProbingMetadata     Stage = "probing_metadata"
	StageTranscoding         Stage = "transcoding"
	StageGeneratingThumbnail Stage = "generating_thumbnail"
	StageSamplingFrames      Stage = "sampling_frames"
	StageUploadingArtifacts  Stage = "uploading_artifacts"
	StageDone                Stage = "done"
	StageFailed              Stage = "failed"
)
