package main

import (
	"encoding/json"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"forestwatch/internal/domain/alert"
	"forestwatch/internal/services/pipeline"
	"forestwatch/pkg/errors"
)

const version = "0.1.0"

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:     "fwctl",
		Short:   "Forest change detection operator CLI",
		Version: version,
		Long: `fwctl runs forestwatch pipeline operations in-process against the
configured object store, trainer and databases. Configuration is read from the
environment (and .env) exactly like the daemon.`,
		Example: `  # Latest model of a tile
  $ fwctl latest --region amazon --tile 22MBU

  # Analyse a scene, retraining the tile model
  $ fwctl analyze-scene --scene S2A_20240101 --force

  # Grade a batch of scene outcomes
  $ fwctl assess --file outcomes.json`,
		SilenceUsage: true,
	}
	root.CompletionOptions.DisableDefaultCmd = true
	root.PersistentFlags().StringVarP(&a.format, "output", "o", "json", "output format: json or yaml")
	root.PersistentFlags().DurationVar(&a.timeout, "timeout", time.Hour, "request timeout")

	root.AddCommand(
		selectKCmd(a),
		saveModelCmd(a),
		compareCmd(a),
		historyCmd(a),
		latestCmd(a),
		trackPerformanceCmd(a),
		analyzeSceneCmd(a),
		assessCmd(a),
		publishSceneCmd(a),
	)
	return root
}

func tileFlags(cmd *cobra.Command, region, tile *string) {
	cmd.Flags().StringVar(region, "region", "", "region name")
	cmd.Flags().StringVar(tile, "tile", "", "tile id")
}

func selectKCmd(a *app) *cobra.Command {
	var req pipeline.SelectKRequest
	cmd := &cobra.Command{
		Use:   "select-k",
		Short: "search the cluster count for a stored training dataset",
		Args:  cobra.NoArgs,
		RunE:  func(*cobra.Command, []string) error { return a.run(req) },
	}
	tileFlags(cmd, &req.Region, &req.TileID)
	cmd.Flags().StringVar(&req.SourceImageID, "image", "", "source image id")
	cmd.Flags().StringVar(&req.DatasetRef, "dataset", "", "training dataset key in the object store")
	cmd.Flags().IntSliceVar(&req.CandidateKs, "k", nil, "candidate cluster counts (default from config)")
	return cmd
}

func saveModelCmd(a *app) *cobra.Command {
	var req pipeline.SaveModelRequest
	cmd := &cobra.Command{
		Use:   "save-model",
		Short: "register a finished training artifact as a new model version",
		Args:  cobra.NoArgs,
		RunE:  func(*cobra.Command, []string) error { return a.run(req) },
	}
	tileFlags(cmd, &req.Region, &req.TileID)
	cmd.Flags().StringVar(&req.SourceImageID, "image", "", "source image id")
	cmd.Flags().StringVar(&req.TrainingDatasetLocation, "dataset", "", "training dataset key")
	cmd.Flags().StringVar(&req.TrainingJobName, "job", "", "training job name")
	cmd.Flags().StringVar(&req.ArtifactKey, "artifact", "", "model artifact key")
	cmd.Flags().IntVar(&req.K, "k", 0, "cluster count of the artifact")
	cmd.Flags().Float64Var(&req.QualityMetric, "quality", 0, "training quality metric")
	return cmd
}

func compareCmd(a *app) *cobra.Command {
	var req pipeline.CompareModelsRequest
	cmd := &cobra.Command{
		Use:   "compare",
		Short: "run change detection for a scene between two model versions",
		Long:  "Without --current and --historical the newest version is compared against the oldest.",
		Args:  cobra.NoArgs,
		RunE:  func(*cobra.Command, []string) error { return a.run(req) },
	}
	tileFlags(cmd, &req.Region, &req.TileID)
	cmd.Flags().StringVar(&req.SceneID, "scene", "", "scene id")
	cmd.Flags().StringVar(&req.CurrentVersion, "current", "", "current version id")
	cmd.Flags().StringVar(&req.HistoricalVersion, "historical", "", "historical version id")
	return cmd
}

func historyCmd(a *app) *cobra.Command {
	var req pipeline.GetHistoryRequest
	cmd := &cobra.Command{
		Use:   "history",
		Short: "list model versions of a tile, newest first",
		Args:  cobra.NoArgs,
		RunE:  func(*cobra.Command, []string) error { return a.run(req) },
	}
	tileFlags(cmd, &req.Region, &req.TileID)
	return cmd
}

func latestCmd(a *app) *cobra.Command {
	var req pipeline.GetLatestRequest
	cmd := &cobra.Command{
		Use:   "latest",
		Short: "show the newest model version of a tile",
		Args:  cobra.NoArgs,
		RunE:  func(*cobra.Command, []string) error { return a.run(req) },
	}
	tileFlags(cmd, &req.Region, &req.TileID)
	return cmd
}

func trackPerformanceCmd(a *app) *cobra.Command {
	var req pipeline.TrackPerformanceRequest
	cmd := &cobra.Command{
		Use:   "track-performance",
		Short: "append a performance entry for the tile's latest model",
		Args:  cobra.NoArgs,
		RunE:  func(*cobra.Command, []string) error { return a.run(req) },
	}
	tileFlags(cmd, &req.Region, &req.TileID)
	cmd.Flags().Float64Var(&req.Confidence.Overall, "confidence", 0, "overall confidence in [0,1]")
	cmd.Flags().DurationVar(&req.ProcessingTime, "processing-time", 0, "processing time")
	cmd.Flags().IntVar(&req.PixelsAnalyzed, "pixels", 0, "pixels analysed")
	cmd.Flags().BoolVar(&req.ModelReused, "reused", false, "whether the model was reused")
	return cmd
}

func analyzeSceneCmd(a *app) *cobra.Command {
	var req pipeline.AnalyzeSceneRequest
	cmd := &cobra.Command{
		Use:   "analyze-scene",
		Short: "extract a scene, reuse or train the tile model and detect change",
		Args:  cobra.NoArgs,
		RunE:  func(*cobra.Command, []string) error { return a.run(req) },
	}
	cmd.Flags().StringVar(&req.SceneID, "scene", "", "scene id")
	cmd.Flags().BoolVar(&req.ForceRetrain, "force", false, "train a new model even if one exists")
	tileFlags(cmd, &req.Region, &req.TileID)
	return cmd
}

func assessCmd(a *app) *cobra.Command {
	var (
		file    string
		publish bool
	)
	cmd := &cobra.Command{
		Use:   "assess",
		Short: "grade a JSON array of scene outcomes",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			outcomes, err := readOutcomes(file)
			if err != nil {
				return err
			}
			return a.run(pipeline.AssessRequest{Outcomes: outcomes, Publish: publish})
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "scene outcomes file (- for stdin)")
	cmd.Flags().BoolVar(&publish, "publish", false, "publish the assessment to the alerts topic")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func readOutcomes(file string) ([]alert.SceneOutcome, error) {
	var (
		data []byte
		err  error
	)
	if file == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(file)
	}
	if err != nil {
		return nil, errors.Wrap(err, "read outcomes")
	}
	var outcomes []alert.SceneOutcome
	if err := json.Unmarshal(data, &outcomes); err != nil {
		return nil, errors.Wrapf(errors.ErrInvalidInput, "decode outcomes: %v", err)
	}
	return outcomes, nil
}

func publishSceneCmd(a *app) *cobra.Command {
	var req pipeline.AnalyzeSceneRequest
	cmd := &cobra.Command{
		Use:   "publish-scene",
		Short: "enqueue a scene for the daemon's scene consumer",
		Args:  cobra.NoArgs,
		RunE:  func(*cobra.Command, []string) error { return a.publish(req) },
	}
	cmd.Flags().StringVar(&req.SceneID, "scene", "", "scene id")
	cmd.Flags().BoolVar(&req.ForceRetrain, "force", false, "train a new model even if one exists")
	tileFlags(cmd, &req.Region, &req.TileID)
	return cmd
}
