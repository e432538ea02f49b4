package polyanalyst

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"

	paerrors "github.com/megaputer/polyanalyst6api-go/errors"
	"github.com/megaputer/polyanalyst6api-go/patypes"
)

// Dataset provides access to the data produced by a project node.
// Instances are obtained from Project.Dataset.
//
// Dataset access goes through a server-side wrapper object identified by a
// guid. The wrapper is created lazily: the first data request is sent with an
// empty guid on purpose, the server rejects it, and the client fetches the
// freshly created wrapper's guid and retries. The same refresh-and-retry
// path recovers from wrappers the server has dropped since.
type Dataset struct {
	client  *Client
	prjUUID string
	node    patypes.Node

	// guid identifies the dataset wrapper on the server; empty until the
	// first request forces wrapper creation
	guid string
}

// Node returns the project node this dataset belongs to.
func (d *Dataset) Node() patypes.Node {
	return d.node
}

// Info returns information about the dataset.
func (d *Dataset) Info(ctx context.Context) (*patypes.DatasetInfo, error) {
	var info patypes.DatasetInfo
	err := d.withWrapperRetry(ctx, func() error {
		return d.client.Get(ctx, "dataset/info", &RequestOptions{
			Params: url.Values{"wrapperGuid": {d.guid}},
		}, &info)
	})
	if err != nil {
		return nil, err
	}
	return &info, nil
}

// Progress returns the preparation progress of the dataset.
func (d *Dataset) Progress(ctx context.Context) (*patypes.DatasetProgress, error) {
	var progress patypes.DatasetProgress
	err := d.withWrapperRetry(ctx, func() error {
		return d.client.Get(ctx, "dataset/progress", &RequestOptions{
			Params: url.Values{"wrapperGuid": {d.guid}},
		}, &progress)
	})
	if err != nil {
		return nil, err
	}
	return &progress, nil
}

// Preview returns the first 1000 rows of the dataset with text values
// truncated to 250 characters.
func (d *Dataset) Preview(ctx context.Context) ([]patypes.Row, error) {
	var rows []patypes.Row
	err := d.client.Get(ctx, "dataset/preview", &RequestOptions{
		Params: url.Values{
			"prjUUID": {d.prjUUID},
			"name":    {d.node.Name},
			"type":    {d.node.Type},
		},
	}, &rows)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// Rows returns dataset rows in the half-open range [start, stop) keyed by
// column title. Columns flagged getTextAlways are fetched cell by cell so
// their full text is returned. A stop of -1 reads to the end of the dataset.
func (d *Dataset) Rows(ctx context.Context, start, stop int) ([]patypes.Row, error) {
	info, err := d.Info(ctx)
	if err != nil {
		return nil, err
	}
	if stop < 0 {
		stop = info.RowCount
	}
	if start < 0 || start > stop || stop > info.RowCount {
		return nil, paerrors.NewError("rows", paerrors.ErrInvalidInput).
			WithMessage(fmt.Sprintf("start and stop must be within dataset row range (0, %d)", info.RowCount))
	}
	if start == stop {
		return []patypes.Row{}, nil
	}

	table, err := d.values(ctx, stop)
	if err != nil {
		return nil, err
	}
	if len(table) < stop {
		return nil, paerrors.NewEndpointError("rows", "dataset/values",
			fmt.Errorf("server returned %d rows, expected at least %d", len(table), stop))
	}

	rows := make([]patypes.Row, 0, stop-start)
	for idx := start; idx < stop; idx++ {
		row := make(patypes.Row, len(info.Columns))
		for _, col := range info.Columns {
			if col.Flags["getTextAlways"] {
				text, err := d.cellText(ctx, idx, col)
				if err != nil {
					return nil, err
				}
				row[col.Title] = text
				continue
			}
			if col.ID < len(table[idx]) {
				row[col.Title] = table[idx][col.ID]
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// values fetches the first rowCount rows of the wrapped dataset as raw
// column-indexed values.
func (d *Dataset) values(ctx context.Context, rowCount int) ([][]any, error) {
	var result struct {
		Table [][]any `json:"table"`
	}
	err := d.withWrapperRetry(ctx, func() error {
		return d.client.Get(ctx, "dataset/values", &RequestOptions{
			JSON: map[string]any{
				"wrapperGuid": d.guid,
				"rowCount":    rowCount,
			},
		}, &result)
	})
	if err != nil {
		return nil, err
	}
	return result.Table, nil
}

// cellText fetches the full text of a single cell.
func (d *Dataset) cellText(ctx context.Context, row int, col patypes.ColumnInfo) (string, error) {
	var result struct {
		Text string `json:"text"`
	}
	err := d.withWrapperRetry(ctx, func() error {
		return d.client.Get(ctx, "dataset/cell-text", &RequestOptions{
			JSON: map[string]any{
				"wrapperGuid": d.guid,
				"row":         row,
				"col":         col.ID,
				"colTitle":    col.Title,
				"offset":      0,
				"count":       0,
			},
		}, &result)
	})
	if err != nil {
		return "", err
	}
	return result.Text, nil
}

// withWrapperRetry runs fn and, when the server reports the dataset wrapper
// as missing, refreshes the wrapper guid once and runs fn again.
func (d *Dataset) withWrapperRetry(ctx context.Context, fn func() error) error {
	err := fn()
	if err == nil || !errors.Is(err, paerrors.ErrWrapperNotFound) {
		return err
	}
	if err := d.refreshGuid(ctx); err != nil {
		return err
	}
	return fn()
}

// refreshGuid asks the server for the wrapper guid of this dataset, creating
// the wrapper when it does not exist yet.
func (d *Dataset) refreshGuid(ctx context.Context) error {
	var result struct {
		WrapperGuid string `json:"wrapperGuid"`
	}
	err := d.client.Get(ctx, "dataset/wrapper-guid", &RequestOptions{
		Params: url.Values{
			"prjUUID": {d.prjUUID},
			"obj":     {strconv.Itoa(d.node.ID)},
		},
	}, &result)
	if err != nil {
		return err
	}
	d.guid = result.WrapperGuid
	return nil
}
