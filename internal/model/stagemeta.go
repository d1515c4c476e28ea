package model

import "fmt"

// StageMeta is an immutable record describing one substage: its position
// in the overall run (main stage number, substage number), the stage
// class's short name, textual goals handed to the worker prompts, and the
// iteration/draft budget for this substage.
type StageMeta struct {
	Name            string
	MainStageNumber int // 1..4
	Slug            string
	SubstageNumber  int
	SubstageName    string
	Goals           string
	MaxIterations   int
	NumDrafts       int // non-zero only for stage 1's first substage
}

// NewStageMeta builds a StageMeta with the canonical
// stage_{number}_{slug}_{substage_number}_{substage_name} name.
func NewStageMeta(mainStage int, slug string, substageNumber int, substageName, goals string, maxIterations, numDrafts int) StageMeta {
	return StageMeta{
		Name:            fmt.Sprintf("stage_%d_%s_%d_%s", mainStage, slug, substageNumber, substageName),
		MainStageNumber: mainStage,
		Slug:            slug,
		SubstageNumber:  substageNumber,
		SubstageName:    substageName,
		Goals:           goals,
		MaxIterations:   maxIterations,
		NumDrafts:       numDrafts,
	}
}
