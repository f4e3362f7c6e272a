package query

import (
	"context"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/score-portal/score-portal/internal/domain/prediction"
	"github.com/score-portal/score-portal/internal/domain/score"
	"github.com/score-portal/score-portal/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// PREDICT OUTCOME QUERIES
// ══════════════════════════════════════════════════════════════════════════════

// StudentPrediction is a prediction with its presentation data.
type StudentPrediction struct {
	StudentExternalID string                   `json:"studentExternalId,omitempty"`
	DisplayName       string                   `json:"displayName,omitempty"`
	Prediction        prediction.Result        `json:"prediction"`
	Visualization     prediction.Visualization `json:"visualization"`
}

func newStudentPrediction(id, name string, history []prediction.HistoryEntry) StudentPrediction {
	r := prediction.Predict(history)
	return StudentPrediction{
		StudentExternalID: id,
		DisplayName:       name,
		Prediction:        r,
		Visualization:     prediction.Visualize(r),
	}
}

// PredictOutcomeHandler predicts from stored or supplied histories.
type PredictOutcomeHandler struct {
	scores      score.Repository
	students    score.StudentRepository
	concurrency int
}

// NewPredictOutcomeHandler creates the handler. concurrency bounds the
// workers of PredictAll; values below 1 mean 4.
func NewPredictOutcomeHandler(scores score.Repository, students score.StudentRepository, concurrency int) *PredictOutcomeHandler {
	if concurrency < 1 {
		concurrency = 4
	}
	return &PredictOutcomeHandler{scores: scores, students: students, concurrency: concurrency}
}

// PredictHistory scores a caller supplied history (most recent first).
func (h *PredictOutcomeHandler) PredictHistory(history []prediction.HistoryEntry) StudentPrediction {
	return newStudentPrediction("", "", history)
}

// PredictStudent scores a stored student. Ranks and exam averages come from
// the current data of every exam the student took.
func (h *PredictOutcomeHandler) PredictStudent(ctx context.Context, studentExternalID string) (*StudentPrediction, error) {
	studentExternalID = strings.TrimSpace(studentExternalID)
	if studentExternalID == "" {
		return nil, shared.ErrEmptyStudentID
	}

	snap, err := loadSnapshot(ctx, h.scores, h.students)
	if err != nil {
		return nil, err
	}
	if !snap.known(studentExternalID) {
		return nil, shared.ErrStudentNotFound
	}

	p := newStudentPrediction(studentExternalID, snap.displayName(studentExternalID), snap.history(studentExternalID))
	return &p, nil
}

// PredictAll scores every known student, ordered by graduation probability
// descending then external id.
func (h *PredictOutcomeHandler) PredictAll(ctx context.Context) ([]StudentPrediction, error) {
	snap, err := loadSnapshot(ctx, h.scores, h.students)
	if err != nil {
		return nil, err
	}

	ids := snap.studentIDs()
	out := make([]StudentPrediction, len(ids))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(h.concurrency)
	for i, id := range ids {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			out[i] = newStudentPrediction(id, snap.displayName(id), snap.history(id))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.SliceStable(out, func(i, j int) bool {
		pi, pj := out[i].Prediction.GraduationProbability, out[j].Prediction.GraduationProbability
		if pi != pj {
			return pi > pj
		}
		return out[i].StudentExternalID < out[j].StudentExternalID
	})
	return out, nil
}
