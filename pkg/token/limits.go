package token

import "errors"

var (
	errJSONDepth        = errors.New("json nesting depth exceeded")
	errJSONArraySize    = errors.New("json array size exceeded")
	errJSONStringLength = errors.New("json string length exceeded")
)

// checkJSONLimits scans data once and enforces nesting depth, array length
// and string length without building any values. Malformed JSON is left for
// the decoder to report.
func checkJSONLimits(data []byte, maxDepth, maxArraySize, maxStringLength int) error {
	type frame struct {
		array   bool
		count   int
		pending bool
	}
	stack := make([]frame, 0, maxDepth+1)
	inString, escaped := false, false
	strLen := 0

	markValue := func() error {
		n := len(stack)
		if n == 0 || !stack[n-1].array || stack[n-1].pending {
			return nil
		}
		stack[n-1].pending = true
		stack[n-1].count++
		if stack[n-1].count > maxArraySize {
			return errJSONArraySize
		}
		return nil
	}

	for _, b := range data {
		if inString {
			switch {
			case escaped:
				escaped = false
			case b == '\\':
				escaped = true
				continue
			case b == '"':
				inString = false
				continue
			}
			strLen++
			if strLen > maxStringLength {
				return errJSONStringLength
			}
			continue
		}

		switch b {
		case ' ', '\t', '\n', '\r', ':':
		case '"':
			if err := markValue(); err != nil {
				return err
			}
			inString = true
			strLen = 0
		case '[', '{':
			if err := markValue(); err != nil {
				return err
			}
			stack = append(stack, frame{array: b == '['})
			if len(stack) > maxDepth {
				return errJSONDepth
			}
		case ']', '}':
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
		case ',':
			if n := len(stack); n > 0 && stack[n-1].array {
				stack[n-1].pending = false
			}
		default:
			if err := markValue(); err != nil {
				return err
			}
		}
	}
	return nil
}
