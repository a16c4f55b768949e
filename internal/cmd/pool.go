package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/3leaps/livyctl/pkg/serverless"
)

var poolCmd = &cobra.Command{
	Use:   "pool",
	Short: "Size serverless Spark pools",
}

var poolAUCmd = newPoolAUCommand()

func newPoolAUCommand() *cobra.Command {
	c := &cobra.Command{
		Use:   "au",
		Short: "Compute the allocation units a pool needs",
		Long: `Compute the allocation units (AU) a serverless Spark pool consumes.

One AU buys 2 cores or 6 GB of memory, whichever runs out first. With
--total the result is checked against the account's available AU.

Examples:
  livyctl pool au --master-cores 4 --master-memory 16 --worker-cores 4 --worker-memory 16 --workers 10
  livyctl pool au --file pool.yaml --total 100 --used 40`,
		RunE: runPoolAU,
	}

	c.Flags().String("file", "", "Read the pool spec from a YAML or JSON file")
	c.Flags().Int("master-cores", 0, "Master container cores")
	c.Flags().Int("master-memory", 0, "Master container memory in GB")
	c.Flags().Int("worker-cores", 0, "Worker container cores")
	c.Flags().Int("worker-memory", 0, "Worker container memory in GB")
	c.Flags().Int("workers", 0, "Number of worker containers")
	c.Flags().Int("total", -1, "Total AU of the account (enables the fit check)")
	c.Flags().Int("used", 0, "AU already in use")
	c.Flags().Bool("json", false, "Output as JSON")
	return c
}

type poolAUResult struct {
	serverless.PoolSpec

	AU        int   `json:"au"`
	Total     *int  `json:"total,omitempty"`
	Available *int  `json:"available,omitempty"`
	Fits      *bool `json:"fits,omitempty"`
}

func init() {
	rootCmd.AddCommand(poolCmd)
	poolCmd.AddCommand(poolAUCmd)
}

// loadPoolSpec reads path as YAML (a JSON document is valid YAML too).
func loadPoolSpec(path string) (serverless.PoolSpec, error) {
	var spec serverless.PoolSpec
	data, err := os.ReadFile(path)
	if err != nil {
		return spec, err
	}
	if err := yaml.Unmarshal(data, &spec); err != nil {
		return spec, fmt.Errorf("parse pool spec %s: %w", path, err)
	}
	return spec, nil
}

func poolSpecFromFlags(cmd *cobra.Command) (serverless.PoolSpec, error) {
	var spec serverless.PoolSpec
	if path := flagString(cmd, "file"); path != "" {
		var err error
		if spec, err = loadPoolSpec(path); err != nil {
			return spec, err
		}
	}
	override := func(name string, dst *int) {
		if cmd.Flags().Changed(name) {
			*dst, _ = cmd.Flags().GetInt(name)
		}
	}
	override("master-cores", &spec.MasterCores)
	override("master-memory", &spec.MasterMemoryGB)
	override("worker-cores", &spec.WorkerCores)
	override("worker-memory", &spec.WorkerMemoryGB)
	override("workers", &spec.WorkerContainers)
	return spec, spec.Validate()
}

func runPoolAU(cmd *cobra.Command, _ []string) error {
	spec, err := poolSpecFromFlags(cmd)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid pool spec", err)
	}
	res := poolAUResult{PoolSpec: spec, AU: spec.AU()}

	var fitErr error
	if total, _ := cmd.Flags().GetInt("total"); total >= 0 {
		used, _ := cmd.Flags().GetInt("used")
		avail := serverless.AvailableAU(total, used)
		fitErr = spec.Fits(total, used)
		fits := fitErr == nil
		res.Total, res.Available, res.Fits = &total, &avail, &fits
	}

	if jsonOutput, _ := cmd.Flags().GetBool("json"); jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(res); err != nil {
			return err
		}
	} else {
		_, _ = fmt.Fprintf(os.Stdout, "au=%d\n", res.AU)
		if res.Total != nil {
			_, _ = fmt.Fprintf(os.Stdout, "available=%d\n", *res.Available)
			_, _ = fmt.Fprintf(os.Stdout, "fits=%t\n", *res.Fits)
		}
	}

	if errors.Is(fitErr, serverless.ErrInsufficientAU) {
		return exitError(1, "Pool does not fit", fitErr)
	}
	return nil
}
