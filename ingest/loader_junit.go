package ingest

import (
	"encoding/xml"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/qacompanion/qac/artifact"
	"github.com/qacompanion/qac/errors"
)

type junitSuites struct {
	XMLName xml.Name     `xml:"testsuites"`
	Suites  []junitSuite `xml:"testsuite"`
}

type junitSuite struct {
	XMLName   xml.Name    `xml:"testsuite"`
	Name      string      `xml:"name,attr"`
	Tests     int         `xml:"tests,attr"`
	Failures  int         `xml:"failures,attr"`
	Errors    int         `xml:"errors,attr"`
	Skipped   int         `xml:"skipped,attr"`
	Time      float64     `xml:"time,attr"`
	Timestamp string      `xml:"timestamp,attr"`
	Cases     []junitCase `xml:"testcase"`
}

type junitCase struct {
	Name      string        `xml:"name,attr"`
	ClassName string        `xml:"classname,attr"`
	Time      float64       `xml:"time,attr"`
	Failure   *junitFailure `xml:"failure"`
	Error     *junitFailure `xml:"error"`
}

type junitFailure struct {
	Message string `xml:"message,attr"`
	Type    string `xml:"type,attr"`
	Body    string `xml:",chardata"`
}

// JUnitLoader ingests JUnit XML reports as test_result artifacts, one per
// suite. Failure messages and output are embedded in the content so failed
// runs are searchable by their symptoms.
type JUnitLoader struct{}

func (l *JUnitLoader) Name() string { return "junit" }

func (l *JUnitLoader) CanLoad(path string) bool {
	return strings.ToLower(filepath.Ext(path)) == ".xml"
}

func (l *JUnitLoader) Load(path string, opts Options) ([]*artifact.Draft, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read %s", path)
	}

	suites, err := parseJUnit(data)
	if err != nil {
		return nil, errors.Wrapf(err, "%s is not a JUnit report", path)
	}
	if len(suites) == 0 {
		return nil, errors.NewInvalidInputError("%s contains no test suites", path)
	}

	sourceID := relSourceID(opts.Root, path)
	drafts := make([]*artifact.Draft, 0, len(suites))
	for i, suite := range suites {
		name := suite.Name
		if name == "" {
			name = fmt.Sprintf("suite-%d", i+1)
		}
		status := "passed"
		if suite.Failures > 0 || suite.Errors > 0 {
			status = "failed"
		}

		metadata := map[string]interface{}{
			"path":     sourceID,
			"format":   "junit",
			"suite":    name,
			"tests":    suite.Tests,
			"failures": suite.Failures,
			"errors":   suite.Errors,
			"skipped":  suite.Skipped,
			"status":   status,
		}
		if suite.Timestamp != "" {
			metadata["timestamp"] = suite.Timestamp
		}

		drafts = append(drafts, &artifact.Draft{
			Kind:     artifact.KindTestResult,
			SourceID: sourceID + "#" + name,
			Title:    name,
			Content:  renderSuite(suite, name),
			Repo:     opts.Repo,
			Metadata: metadata,
		})
	}
	return drafts, nil
}

// parseJUnit accepts both <testsuites> wrappers and bare <testsuite> roots.
func parseJUnit(data []byte) ([]junitSuite, error) {
	var wrapper junitSuites
	if err := xml.Unmarshal(data, &wrapper); err == nil {
		return wrapper.Suites, nil
	}

	var single junitSuite
	if err := xml.Unmarshal(data, &single); err != nil {
		return nil, err
	}
	return []junitSuite{single}, nil
}

func renderSuite(suite junitSuite, name string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Test suite: %s\n", name)
	fmt.Fprintf(&sb, "Tests: %d, failures: %d, errors: %d, skipped: %d (%.2fs)\n",
		suite.Tests, suite.Failures, suite.Errors, suite.Skipped, suite.Time)

	for _, tc := range suite.Cases {
		fail := tc.Failure
		label := "FAIL"
		if fail == nil && tc.Error != nil {
			fail = tc.Error
			label = "ERROR"
		}
		if fail == nil {
			continue
		}
		caseName := tc.Name
		if tc.ClassName != "" {
			caseName = tc.ClassName + "." + tc.Name
		}
		fmt.Fprintf(&sb, "\n%s %s", label, caseName)
		if fail.Message != "" {
			fmt.Fprintf(&sb, ": %s", fail.Message)
		}
		sb.WriteString("\n")
		if body := strings.TrimSpace(fail.Body); body != "" {
			sb.WriteString(body)
			sb.WriteString("\n")
		}
	}

	if suite.Failures == 0 && suite.Errors == 0 {
		sb.WriteString("\nAll tests passed.\n")
	}
	return sb.String()
}
