// Package export renders call records for download: full JSON, flattened
// CSV (summary or per-transcript-entry rows), and a plain-text report.
package export

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/voxlens/voxlens/types"
)

// Format selects the export rendering.
type Format string

const (
	FormatJSON       Format = "json"
	FormatCSV        Format = "csv"
	FormatCSVEntries Format = "csv_entries"
	FormatReport     Format = "report"
)

// ContentType returns the response media type for a format.
func (f Format) ContentType() string {
	switch f {
	case FormatJSON:
		return "application/json"
	case FormatCSV, FormatCSVEntries:
		return "text/csv"
	case FormatReport:
		return "text/plain; charset=utf-8"
	default:
		return "application/octet-stream"
	}
}

// ParseFormat validates a format parameter.
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(s)) {
	case FormatJSON, "":
		return FormatJSON, nil
	case FormatCSV:
		return FormatCSV, nil
	case FormatCSVEntries:
		return FormatCSVEntries, nil
	case FormatReport:
		return FormatReport, nil
	default:
		return "", types.NewError(types.ErrInvalidRequest,
			fmt.Sprintf("unknown export format %q", s))
	}
}

// Render produces the export bytes for a call in the requested format.
func Render(call *types.CallRecord, format Format) ([]byte, error) {
	switch format {
	case FormatJSON:
		return json.MarshalIndent(call, "", "  ")
	case FormatCSV:
		return renderSummaryCSV(call)
	case FormatCSVEntries:
		return renderEntriesCSV(call)
	case FormatReport:
		return renderReport(call), nil
	default:
		return nil, types.NewError(types.ErrInvalidRequest,
			fmt.Sprintf("unknown export format %q", format))
	}
}

func renderSummaryCSV(call *types.CallRecord) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	header := []string{
		"call_id", "customer_id", "agent_id", "status", "created_at",
		"duration_ms", "retry_count", "overall_score", "grade",
		"latency_score", "interruption_score", "pronunciation_score",
		"repetition_score", "disconnection_score", "jobs_score",
	}
	if err := w.Write(header); err != nil {
		return nil, err
	}

	row := []string{
		call.ID,
		call.CustomerID,
		call.Metadata.AgentID,
		string(call.Status),
		call.CreatedAt.Format(time.RFC3339),
		strconv.FormatInt(types.DurationMs(call.Transcript), 10),
		strconv.Itoa(call.RetryCount),
	}
	if e := call.Evaluation; e != nil {
		row = append(row,
			formatScore(e.OverallScore), e.Grade,
			formatScore(e.Latency.Score), formatScore(e.Interruption.Score),
			formatScore(e.Pronunciation.Score), formatScore(e.Repetition.Score),
			formatScore(e.Disconnection.Score), formatScore(e.JobsToBeDone.Score),
		)
	} else {
		row = append(row, "", "", "", "", "", "", "", "")
	}
	if err := w.Write(row); err != nil {
		return nil, err
	}

	w.Flush()
	return buf.Bytes(), w.Error()
}

func renderEntriesCSV(call *types.CallRecord) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	header := []string{"call_id", "index", "role", "start_ms", "duration_ms", "confidence", "text"}
	if err := w.Write(header); err != nil {
		return nil, err
	}
	for i, e := range call.Transcript {
		row := []string{
			call.ID,
			strconv.Itoa(i),
			string(e.Role),
			strconv.FormatInt(e.StartMs, 10),
			strconv.FormatInt(e.DurationMs, 10),
			strconv.FormatFloat(e.Confidence, 'f', 2, 64),
			e.Text,
		}
		if err := w.Write(row); err != nil {
			return nil, err
		}
	}

	w.Flush()
	return buf.Bytes(), w.Error()
}

func renderReport(call *types.CallRecord) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "Call Quality Report\n")
	fmt.Fprintf(&b, "===================\n\n")
	fmt.Fprintf(&b, "Call:       %s\n", call.ID)
	fmt.Fprintf(&b, "Customer:   %s\n", call.CustomerID)
	if call.Metadata.AgentID != "" {
		fmt.Fprintf(&b, "Agent:      %s\n", call.Metadata.AgentID)
	}
	fmt.Fprintf(&b, "Status:     %s\n", call.Status)
	fmt.Fprintf(&b, "Created:    %s\n", call.CreatedAt.Format(time.RFC3339))
	fmt.Fprintf(&b, "Duration:   %.1fs\n", float64(types.DurationMs(call.Transcript))/1000)

	if e := call.Evaluation; e != nil {
		fmt.Fprintf(&b, "\nOverall: %.1f (%s)\n\n", e.OverallScore, e.Grade)
		fmt.Fprintf(&b, "  Latency:        %5.1f  (p95 gap %.0f ms over %d samples)\n",
			e.Latency.Score, e.Latency.P95GapMs, e.Latency.Samples)
		fmt.Fprintf(&b, "  Interruptions:  %5.1f  (%d total, %.1f/min)\n",
			e.Interruption.Score, e.Interruption.Count, e.Interruption.PerMinute)
		fmt.Fprintf(&b, "  Clarity:        %5.1f  (confidence %.0f%%, %.0f WPM)\n",
			e.Pronunciation.Score, e.Pronunciation.AvgConfidence*100, e.Pronunciation.WordsPerMinute)
		fmt.Fprintf(&b, "  Repetition:     %5.1f  (loop detected: %v)\n",
			e.Repetition.Score, e.Repetition.LoopDetected)
		fmt.Fprintf(&b, "  Call ending:    %5.1f  (natural: %v)\n",
			e.Disconnection.Score, e.Disconnection.NaturalEnding)
		fmt.Fprintf(&b, "  Task outcome:   %5.1f  (source: %s)\n",
			e.JobsToBeDone.Score, e.JobsToBeDone.Source)

		if len(e.CriticalIssues) > 0 {
			fmt.Fprintf(&b, "\nCritical issues:\n")
			for _, issue := range e.CriticalIssues {
				fmt.Fprintf(&b, "  - %s\n", issue)
			}
		}
		if len(e.Recommendations) > 0 {
			fmt.Fprintf(&b, "\nRecommendations:\n")
			for _, rec := range e.Recommendations {
				fmt.Fprintf(&b, "  - %s\n", rec)
			}
		}
	}

	if len(call.Transcript) > 0 {
		fmt.Fprintf(&b, "\nTranscript:\n")
		for _, e := range call.Transcript {
			fmt.Fprintf(&b, "  [%6.1fs] %-9s %s\n", float64(e.StartMs)/1000, e.Role+":", e.Text)
		}
	}

	return []byte(b.String())
}

func formatScore(s float64) string {
	return strconv.FormatFloat(s, 'f', 1, 64)
}
