package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"

	"review-sync-backend/internal/model"
	"review-sync-backend/internal/normalizer"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var (
	normalizeKind  string
	normalizeActor string
)

var normalizeCmd = &cobra.Command{
	Use:   "normalize <form.json>",
	Short: "Print the normalized sections and edit records of a saved form document",
	Long: `Read a raw FormContent / ReviewContentDetail document (with or without the
OData "d" envelope) and print the sections and edit records it normalizes to.

Example:
  review-sync normalize --kind 360 --actor mgr1 form.json`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		kind, err := model.ParseFormKind(normalizeKind)
		if err != nil {
			return err
		}
		doc, err := readRawDocument(args[0])
		if err != nil {
			return err
		}

		res, err := normalizer.Normalize(doc, kind, normalizeActor)
		if err != nil {
			return err
		}

		out, err := toYAML(map[string]any{
			"title":    doc.Title(),
			"subject":  doc.SubjectID(),
			"sections": res.Sections,
			"edits":    res.Edits,
		})
		if err != nil {
			return err
		}
		_, err = cmd.OutOrStdout().Write(out)
		return err
	},
}

func init() {
	normalizeCmd.Flags().StringVarP(&normalizeKind, "kind", "k", "pm", "form kind: pm or 360")
	normalizeCmd.Flags().StringVarP(&normalizeActor, "actor", "a", "", "user id of the reviewer")
}

func readRawDocument(path string) (*model.RawDocument, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	var env model.ODataEnvelope
	if err := json.Unmarshal(data, &env); err == nil && len(env.D) > 0 {
		data = env.D
	}

	var doc model.RawDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return &doc, nil
}

// toYAML 先经过 JSON，保证输出字段名与 API 一致
func toYAML(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var generic any
	if err := json.Unmarshal(data, &generic); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(generic); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
