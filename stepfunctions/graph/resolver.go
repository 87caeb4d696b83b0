package graph

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws/arn"

	"stepfunction-inspector/stepfunctions/asl"
)

// Resource kinds understood by the log correlator.
const (
	KindFunction      = "function"
	KindContainerTask = "container-task"
)

const defaultRegion = "us-east-1"

// ErrUnresolvedResource reports a Task whose resource no resolver knows.
var ErrUnresolvedResource = errors.New("unresolved task resource")

// Resource is the external compute identity behind a Task state.
type Resource struct {
	ID         string
	Kind       string
	Link       string
	LaunchType string
}

// Resolver maps a Task state to the resource it runs. Resolve reports false
// when the task cannot be mapped; the node is then emitted without resource
// fields.
type Resolver interface {
	Resolve(task asl.Task) (Resource, bool)
}

// ResolverFunc adapts a function to the Resolver interface.
type ResolverFunc func(task asl.Task) (Resource, bool)

func (f ResolverFunc) Resolve(task asl.Task) (Resource, bool) { return f(task) }

// ResolveTask runs r for task. A nil resolver resolves nothing.
func ResolveTask(r Resolver, task asl.Task) (Resource, error) {
	if r != nil {
		if res, ok := r.Resolve(task); ok {
			return res, nil
		}
	}
	return Resource{}, fmt.Errorf("%w: %q", ErrUnresolvedResource, task.Resource)
}

// Chain tries each resolver in order and returns the first match.
type Chain []Resolver

func (c Chain) Resolve(task asl.Task) (Resource, bool) {
	for _, r := range c {
		if r == nil {
			continue
		}
		if res, ok := r.Resolve(task); ok {
			return res, true
		}
	}
	return Resource{}, false
}

// DefaultResolvers resolves Lambda functions and ECS tasks. region is used
// for console links when the resource ARN does not carry one.
func DefaultResolvers(region string) Chain {
	return Chain{
		LambdaResolver{Region: region},
		ContainerResolver{Region: region},
	}
}

// LambdaResolver handles direct Lambda ARNs and the lambda:invoke service
// integration, where the function comes from Parameters.
type LambdaResolver struct {
	Region string
}

func (r LambdaResolver) Resolve(task asl.Task) (Resource, bool) {
	a, err := arn.Parse(task.Resource)
	if err != nil {
		return Resource{}, false
	}

	var function string
	switch {
	case a.Service == "states" && strings.HasPrefix(a.Resource, "lambda:"):
		function = stringParam(task.Parameters, "FunctionName", "FunctionArn")
	case a.Service == "lambda":
		function = task.Resource
	}
	if function == "" {
		return Resource{}, false
	}

	name := FunctionName(function)
	if name == "" {
		return Resource{}, false
	}
	region := firstNonEmpty(arnRegion(function), r.Region, defaultRegion)
	return Resource{
		ID:   function,
		Kind: KindFunction,
		Link: fmt.Sprintf("https://console.aws.amazon.com/lambda/home?region=%s#/functions/%s", region, name),
	}, true
}

// ContainerResolver handles the ECS RunTask service integrations.
type ContainerResolver struct {
	Region string
}

func (r ContainerResolver) Resolve(task asl.Task) (Resource, bool) {
	a, err := arn.Parse(task.Resource)
	if err != nil {
		return Resource{}, false
	}
	if !(a.Service == "states" && strings.HasPrefix(a.Resource, "ecs:")) && a.Service != "ecs" {
		return Resource{}, false
	}

	taskDefinition := stringParam(task.Parameters, "TaskDefinition", "TaskDefinitionArn")
	cluster := stringParam(task.Parameters, "Cluster")
	link := r.consoleURL(taskDefinition, cluster)
	if link == "" {
		return Resource{}, false
	}
	return Resource{
		ID:         firstNonEmpty(taskDefinition, cluster),
		Kind:       KindContainerTask,
		Link:       link,
		LaunchType: strings.ToUpper(stringParam(task.Parameters, "LaunchType")),
	}, true
}

func (r ContainerResolver) consoleURL(taskDefinition, cluster string) string {
	region := firstNonEmpty(arnRegion(taskDefinition), arnRegion(cluster), r.Region, defaultRegion)
	if name := resourceName(taskDefinition); name != "" {
		return fmt.Sprintf("https://console.aws.amazon.com/ecs/home?region=%s#/taskDefinitions/%s",
			region, url.QueryEscape(name))
	}
	if name := resourceName(cluster); name != "" {
		return fmt.Sprintf("https://console.aws.amazon.com/ecs/home?region=%s#/clusters/%s/tasks",
			region, url.QueryEscape(name))
	}
	return ""
}

// FunctionName extracts the bare function name from a function ARN, a
// partial ARN or a name with a version or alias qualifier.
func FunctionName(ref string) string {
	ref = strings.TrimSpace(ref)
	if a, err := arn.Parse(ref); err == nil {
		ref = a.Resource
	}
	if idx := strings.Index(ref, "function:"); idx >= 0 {
		ref = ref[idx+len("function:"):]
	}
	if idx := strings.Index(ref, ":"); idx >= 0 {
		ref = ref[:idx]
	}
	return ref
}

// resourceName returns the part after the resource-type slash of an ARN
// ("task-definition/web:3" -> "web:3"), or the value itself when it is not
// an ARN.
func resourceName(value string) string {
	a, err := arn.Parse(value)
	if err != nil {
		return value
	}
	res := a.Resource
	if idx := strings.Index(res, "/"); idx >= 0 && idx < len(res)-1 {
		return res[idx+1:]
	}
	return res
}

func arnRegion(value string) string {
	a, err := arn.Parse(value)
	if err != nil {
		return ""
	}
	return a.Region
}

func stringParam(params map[string]any, keys ...string) string {
	for _, key := range keys {
		if s, ok := params[key].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
