package vision

import (
	"fmt"

	"gocv.io/x/gocv"

	"github.com/your-org/pitchtrack/internal/config"
	"github.com/your-org/pitchtrack/internal/teams"
)

// KMeansClusterer runs OpenCV k-means with k-means++ seeding.
type KMeansClusterer struct {
	attempts int
	criteria gocv.TermCriteria
}

func NewKMeansClusterer(cfg config.TeamsConfig) *KMeansClusterer {
	return &KMeansClusterer{
		attempts: cfg.Attempts,
		criteria: gocv.NewTermCriteria(gocv.Count+gocv.EPS, cfg.MaxIterations, cfg.Epsilon),
	}
}

func (k *KMeansClusterer) Cluster(features []teams.Feature, n int) ([]int, []teams.Feature, error) {
	if len(features) < n {
		return nil, nil, fmt.Errorf("kmeans: %d samples for %d clusters", len(features), n)
	}

	data := gocv.NewMatWithSize(len(features), 3, gocv.MatTypeCV32F)
	defer data.Close()
	for i, f := range features {
		for j := 0; j < 3; j++ {
			data.SetFloatAt(i, j, float32(f[j]))
		}
	}

	labels := gocv.NewMat()
	defer labels.Close()
	centers := gocv.NewMat()
	defer centers.Close()
	gocv.KMeans(data, n, &labels, k.criteria, k.attempts, gocv.KMeansPPCenters, &centers)

	if labels.Rows() != len(features) || centers.Rows() != n || centers.Cols() != 3 {
		return nil, nil, fmt.Errorf("kmeans: got %d labels and %dx%d centers for %d samples",
			labels.Rows(), centers.Rows(), centers.Cols(), len(features))
	}

	out := make([]int, len(features))
	for i := range out {
		out[i] = int(labels.GetIntAt(i, 0))
	}
	cs := make([]teams.Feature, n)
	for i := range cs {
		for j := 0; j < 3; j++ {
			cs[i][j] = float64(centers.GetFloatAt(i, j))
		}
	}
	return out, cs, nil
}
