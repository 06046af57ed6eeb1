package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/tendant/product-detect-pipeline/pkg/client"
)

var (
	waitForResult bool
	pollInterval  time.Duration
	imageOut      string
)

var detectCmd = &cobra.Command{
	Use:   "detect [image]",
	Short: "Run synchronous detection on an image",
	Args:  cobra.ExactArgs(1),
	RunE:  runDetect,
}

var triggerCmd = &cobra.Command{
	Use:   "trigger [image]",
	Short: "Start a workflow execution for an image",
	Args:  cobra.ExactArgs(1),
	RunE:  runTrigger,
}

var statusCmd = &cobra.Command{
	Use:   "status [execution-id]",
	Short: "Show the status of a workflow execution",
	Args:  cobra.ExactArgs(1),
	RunE:  runStatus,
}

func init() {
	detectCmd.Flags().StringVar(&imageOut, "image-out", "", "write the processed image data URI to this file")
	triggerCmd.Flags().BoolVar(&waitForResult, "wait", false, "poll until the execution finishes")
	triggerCmd.Flags().DurationVar(&pollInterval, "interval", 2*time.Second, "poll interval with --wait")
	statusCmd.Flags().BoolVar(&waitForResult, "wait", false, "poll until the execution finishes")
	statusCmd.Flags().DurationVar(&pollInterval, "interval", 2*time.Second, "poll interval with --wait")
}

func newClient() *client.Client {
	return client.New(serverURL)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func runDetect(cmd *cobra.Command, args []string) error {
	f, err := os.Open(args[0])
	if err != nil {
		return err
	}
	defer f.Close()

	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	resp, err := newClient().Detect(ctx, filepath.Base(args[0]), f)
	if err != nil {
		return err
	}

	if imageOut != "" {
		if err := os.WriteFile(imageOut, []byte(resp.ProcessedImage), 0o644); err != nil {
			return fmt.Errorf("write processed image: %w", err)
		}
	}
	return printJSON(resp.DetectedProducts)
}

func runTrigger(cmd *cobra.Command, args []string) error {
	f, err := os.Open(args[0])
	if err != nil {
		return err
	}
	defer f.Close()

	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	c := newClient()
	resp, err := c.TriggerWorkflow(ctx, filepath.Base(args[0]), f)
	if err != nil {
		return err
	}
	if !waitForResult {
		return printJSON(resp)
	}

	status, err := c.Wait(ctx, resp.ExecutionID, pollInterval)
	if err != nil {
		return err
	}
	return printJSON(status)
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	c := newClient()
	if waitForResult {
		status, err := c.Wait(ctx, args[0], pollInterval)
		if err != nil {
			return err
		}
		return printJSON(status)
	}

	status, err := c.WorkflowStatus(ctx, args[0])
	if err != nil {
		return err
	}
	return printJSON(status)
}
