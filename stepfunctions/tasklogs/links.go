package tasklogs

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const defaultRegion = "us-east-1"

// ConsoleURL builds a CloudWatch console link to a log group, narrowed to a
// time window, filter pattern and stream prefix when given.
func ConsoleURL(region, group string, start, end time.Time, filterPattern, streamPrefix string) string {
	if group == "" {
		return ""
	}
	if region == "" {
		region = defaultRegion
	}
	var fragment strings.Builder
	fragment.WriteString("logsV2:log-groups/log-group/")
	fragment.WriteString(consoleEscape(group))

	var params []string
	if !start.IsZero() {
		params = append(params, "start="+strconv.FormatInt(start.UnixMilli(), 10))
	}
	if !end.IsZero() {
		params = append(params, "end="+strconv.FormatInt(end.UnixMilli(), 10))
	}
	if filterPattern != "" {
		params = append(params, "filterPattern="+filterPattern)
	}
	if streamPrefix != "" {
		params = append(params, "logStreamNamePrefix="+streamPrefix)
	}
	if len(params) > 0 {
		fragment.WriteString("/log-events$3F")
		fragment.WriteString(consoleEscape(strings.Join(params, "&")))
	}
	return fmt.Sprintf("https://console.aws.amazon.com/cloudwatch/home?region=%s#%s", region, fragment.String())
}

// consoleEscape applies the CloudWatch console's fragment encoding: URL
// encoding with '%' replaced by '$'.
func consoleEscape(value string) string {
	encoded := url.QueryEscape(value)
	encoded = strings.ReplaceAll(encoded, "+", "%20")
	return strings.ReplaceAll(encoded, "%", "$")
}

// LogGroupFromARN extracts the log group name from a log group ARN such as
// "arn:aws:logs:us-east-1:123456789012:log-group:/aws/states/x:*".
func LogGroupFromARN(groupARN string) string {
	_, rest, ok := strings.Cut(groupARN, ":log-group:")
	if !ok {
		return ""
	}
	name, _, _ := strings.Cut(rest, ":")
	return name
}

// FunctionLogGroup is the log group Lambda writes a function's logs to.
func FunctionLogGroup(functionName string) string {
	if functionName == "" {
		return ""
	}
	return "/aws/lambda/" + functionName
}
