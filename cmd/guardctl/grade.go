package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/stemsi/exstem-guard/internal/grading"
	"github.com/stemsi/exstem-guard/internal/model"
)

func gradeCmd() *cobra.Command {
	var keyPath, answersPath string
	cmd := &cobra.Command{
		Use:   "grade",
		Short: "Grade an answer file against an answer key without a server",
		Long: "Grade an answer file against an answer key without a server.\n\n" +
			"The key file holds an answer key (mc, tf, sa). The answers file uses the\n" +
			"submit payload sections (mc_answers, tf_answers, sa_answers) and is read\n" +
			"as leniently as the server reads it.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			result, err := gradeFiles(keyPath, answersPath)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(result)
		},
	}
	f := cmd.Flags()
	f.StringVarP(&keyPath, "key", "k", "", "Answer key JSON file (required)")
	f.StringVarP(&answersPath, "answers", "a", "", "Answers JSON file (required)")
	_ = cmd.MarkFlagRequired("key")
	_ = cmd.MarkFlagRequired("answers")
	return cmd
}

// answersFile mirrors the answer sections of the submit payload.
type answersFile struct {
	MCAnswers json.RawMessage `json:"mc_answers"`
	TFAnswers json.RawMessage `json:"tf_answers"`
	SAAnswers json.RawMessage `json:"sa_answers"`
}

func gradeFiles(keyPath, answersPath string) (model.ScoreResult, error) {
	var key model.AnswerKey
	if err := readJSON(keyPath, &key); err != nil {
		return model.ScoreResult{}, fmt.Errorf("answer key: %w", err)
	}
	var answers answersFile
	if err := readJSON(answersPath, &answers); err != nil {
		return model.ScoreResult{}, fmt.Errorf("answers: %w", err)
	}

	attempt := &model.SubmissionAttempt{
		ExamID:  key.ExamID,
		Answers: model.DecodeAnswers(answers.MCAnswers, answers.TFAnswers, answers.SAAnswers),
	}
	return grading.Grade(&key, attempt), nil
}

func readJSON(path string, dst any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}
