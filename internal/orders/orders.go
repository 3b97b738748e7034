// Package orders parses circuit-generation order lines:
//
//	<quota> <guard|*> <middle|*> <exit|*> <destination|*> [extra...]
//
// Columns after the quota may be omitted; a missing column is the same as '*'.
package orders

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/nvandessel/pathsim/internal/constants"
	"github.com/nvandessel/pathsim/internal/models"
	"github.com/nvandessel/pathsim/internal/restriction"
	"go.uber.org/multierr"
)

var (
	// ErrInvalidQuota is returned for a quota that is not a positive integer.
	ErrInvalidQuota = errors.New("invalid quota")

	// ErrInvalidDestination is returned for a destination that is not host:port.
	ErrInvalidDestination = errors.New("invalid destination")

	// ErrUnknownRelay is returned when a pinned relay is not in the snapshot.
	ErrUnknownRelay = errors.New("unknown relay")

	// ErrEmptyLine is returned by ParseLine for blank input.
	ErrEmptyLine = errors.New("empty order line")
)

// Spec is a parsed but unresolved order line.
type Spec struct {
	// Line is the 1-based line number in the order file, 0 if unknown.
	Line int

	Quota int

	// Pinned relay tokens; empty means unconstrained.
	Guard  string
	Middle string
	Exit   string

	Destination *models.Destination
	Extra       string
}

// ParseLine parses one order line.
func ParseLine(line string) (Spec, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return Spec{}, ErrEmptyLine
	}

	quota, err := strconv.Atoi(fields[0])
	if err != nil || quota <= 0 {
		return Spec{}, fmt.Errorf("%w %q", ErrInvalidQuota, fields[0])
	}

	spec := Spec{Quota: quota}
	column := func(i int) string {
		if i >= len(fields) || fields[i] == constants.UnpinnedToken {
			return ""
		}
		return fields[i]
	}
	spec.Guard = column(1)
	spec.Middle = column(2)
	spec.Exit = column(3)

	if dest := column(4); dest != "" {
		d, err := models.ParseDestination(dest)
		if err != nil {
			return Spec{}, fmt.Errorf("%w: %v", ErrInvalidDestination, err)
		}
		spec.Destination = d
	}
	if len(fields) > 5 {
		spec.Extra = strings.Join(fields[5:], " ")
	}
	return spec, nil
}

// LineError ties a parse failure to its line.
type LineError struct {
	Line int
	Err  error
}

func (e *LineError) Error() string {
	return fmt.Sprintf("line %d: %v", e.Line, e.Err)
}

func (e *LineError) Unwrap() error {
	return e.Err
}

// ParseFile reads every order line from r. Blank lines and '#' comments are
// skipped. A malformed line does not stop the others: the returned error
// combines one *LineError per bad line, and specs holds every good line.
func ParseFile(r io.Reader) ([]Spec, error) {
	var specs []Spec
	var errs error

	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, constants.OrderCommentPrefix) {
			continue
		}
		spec, err := ParseLine(line)
		if err != nil {
			errs = multierr.Append(errs, &LineError{Line: lineNo, Err: err})
			continue
		}
		spec.Line = lineNo
		specs = append(specs, spec)
	}
	if err := scanner.Err(); err != nil {
		errs = multierr.Append(errs, fmt.Errorf("reading orders: %w", err))
	}
	return specs, errs
}

// Resolve turns the spec into an order, looking up pinned relays.
func (s Spec) Resolve(index int, res *restriction.Resolver) (*models.Order, error) {
	order := &models.Order{
		Index:       index,
		Quota:       s.Quota,
		Destination: s.Destination,
		Extra:       s.Extra,
	}

	pins := []struct {
		token string
		dst   **models.Relay
		role  string
	}{
		{s.Guard, &order.Guard, constants.RoleGuard},
		{s.Middle, &order.Middle, constants.RoleMiddle},
		{s.Exit, &order.Exit, constants.RoleExit},
	}
	for _, pin := range pins {
		if pin.token == "" {
			continue
		}
		r, ok := res.Relay(pin.token)
		if !ok {
			return nil, fmt.Errorf("%s %q: %w", pin.role, pin.token, ErrUnknownRelay)
		}
		*pin.dst = r
	}
	return order, nil
}
