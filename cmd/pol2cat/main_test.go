package main

import (
	"bytes"
	"context"
	"errors"
	"flag"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/pol2cat/internal/history"
	"github.com/banshee-data/pol2cat/internal/starlink"
)

func TestRun_Version(t *testing.T) {
	var out, errb bytes.Buffer
	require.NoError(t, run(context.Background(), []string{"-version"}, &out, &errb))
	assert.True(t, strings.HasPrefix(out.String(), "pol2cat "))
}

func TestRun_Help(t *testing.T) {
	var out, errb bytes.Buffer
	err := run(context.Background(), []string{"-h"}, &out, &errb)
	assert.True(t, errors.Is(err, flag.ErrHelp))
	assert.Contains(t, errb.String(), "-config-file")
	assert.Contains(t, errb.String(), "MSG_FILTER")
}

func TestRun_ParameterError(t *testing.T) {
	var out, errb bytes.Buffer
	err := run(context.Background(), []string{"IN=raw", "CAT=out.FIT", "IREF=!", "PI=!", "SNR=abc"}, &out, &errb)
	require.Error(t, err)
	assert.True(t, starlink.IsKind(err, starlink.KindParameter))
	assert.Contains(t, err.Error(), "SNR")
}

func TestRun_BadConfigFile(t *testing.T) {
	var out, errb bytes.Buffer
	err := run(context.Background(), []string{"-config-file", "settings.yaml",
		"IN=raw", "CAT=out.FIT", "IREF=!", "PI=!", "ILEVEL=NONE", "GLEVEL=NONE"}, &out, &errb)
	require.Error(t, err)
	assert.Contains(t, err.Error(), ".json")
}

func TestRun_OutputOutsideWorkingDirectory(t *testing.T) {
	var out, errb bytes.Buffer
	err := run(context.Background(), []string{"-png", "/etc/vectors.png", "raw", "out.FIT", "!", "!"}, &out, &errb)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "allowed directories")
}

func TestRun_DryRunRecordsHistory(t *testing.T) {
	db := filepath.Join(t.TempDir(), "history.db")
	var out, errb bytes.Buffer
	err := run(context.Background(), []string{"-dry-run", "-history", db,
		"raw/*.sdf", "out.FIT", "!", "!", "ILEVEL=ATASK", "GLEVEL=NONE"}, &out, &errb)
	require.NoError(t, err)
	assert.Contains(t, out.String(), "[DRY-RUN] Would execute: $POLPACK_DIR/polvec")

	store, err := history.Open(db)
	require.NoError(t, err)
	defer store.Close()
	runs, err := store.ListRuns(0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, history.StatusOK, runs[0].Status)
	assert.Equal(t, "raw/*.sdf", runs[0].Input)
	assert.Len(t, runs[0].Subarrays, 8)
	assert.Greater(t, runs[0].Invocations, 20)

	var listing bytes.Buffer
	require.NoError(t, handleHistory([]string{"-history", db, "-n", "5"}, &listing))
	assert.Contains(t, listing.String(), runs[0].ID[:8])
}

func TestHandleHistory_MissingDatabase(t *testing.T) {
	err := handleHistory([]string{"-history", filepath.Join(t.TempDir(), "none.db")}, &bytes.Buffer{})
	assert.Error(t, err)
}

func TestErrorText(t *testing.T) {
	se := &starlink.Error{
		Kind:    starlink.KindAtask,
		Command: "$KAPPA_DIR/wcsmosaic in=^a.lis out=b",
		Output:  "!! No overlap\n! between inputs",
		Err:     errors.New("exit status 1"),
	}
	assert.Equal(t, "wcsmosaic failed:\n!! No overlap\n! between inputs", errorText(se, false))

	traced := errorText(se, true)
	assert.Contains(t, traced, "command: $KAPPA_DIR/wcsmosaic in=^a.lis out=b")
	assert.Contains(t, traced, "cause: exit status 1")

	assert.Equal(t, "plain", errorText(errors.New("plain"), true))
}
