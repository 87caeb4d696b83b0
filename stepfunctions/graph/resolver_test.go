package graph

import (
	"errors"
	"testing"

	"stepfunction-inspector/stepfunctions/asl"
)

func TestLambdaResolver(t *testing.T) {
	r := LambdaResolver{Region: "eu-west-1"}

	cases := []struct {
		name     string
		task     asl.Task
		wantOK   bool
		wantID   string
		wantLink string
	}{
		{
			name:     "direct arn with alias",
			task:     asl.Task{Resource: "arn:aws:lambda:us-west-2:123456789012:function:ingest:live"},
			wantOK:   true,
			wantID:   "arn:aws:lambda:us-west-2:123456789012:function:ingest:live",
			wantLink: "https://console.aws.amazon.com/lambda/home?region=us-west-2#/functions/ingest",
		},
		{
			name:     "invoke integration with name",
			task:     asl.Task{Resource: "arn:aws:states:::lambda:invoke", Parameters: map[string]any{"FunctionName": "ingest"}},
			wantOK:   true,
			wantID:   "ingest",
			wantLink: "https://console.aws.amazon.com/lambda/home?region=eu-west-1#/functions/ingest",
		},
		{
			name:     "invoke integration with function arn",
			task:     asl.Task{Resource: "arn:aws:states:::lambda:invoke.waitForTaskToken", Parameters: map[string]any{"FunctionArn": "arn:aws:lambda:ap-south-1:1:function:cb"}},
			wantOK:   true,
			wantID:   "arn:aws:lambda:ap-south-1:1:function:cb",
			wantLink: "https://console.aws.amazon.com/lambda/home?region=ap-south-1#/functions/cb",
		},
		{
			name:   "invoke integration with dynamic name",
			task:   asl.Task{Resource: "arn:aws:states:::lambda:invoke", Parameters: map[string]any{"FunctionName.$": "$.fn"}},
			wantOK: false,
		},
		{
			name:   "not an arn",
			task:   asl.Task{Resource: "ingest"},
			wantOK: false,
		},
		{
			name:   "other integration",
			task:   asl.Task{Resource: "arn:aws:states:::sns:publish"},
			wantOK: false,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res, ok := r.Resolve(tc.task)
			if ok != tc.wantOK {
				t.Fatalf("expected ok=%v, got %v (%+v)", tc.wantOK, ok, res)
			}
			if !ok {
				return
			}
			if res.ID != tc.wantID || res.Kind != KindFunction || res.Link != tc.wantLink {
				t.Fatalf("unexpected resource: %+v", res)
			}
		})
	}
}

func TestContainerResolver(t *testing.T) {
	r := ContainerResolver{}

	res, ok := r.Resolve(asl.Task{
		Resource: "arn:aws:states:::ecs:runTask.sync",
		Parameters: map[string]any{
			"TaskDefinition": "arn:aws:ecs:us-east-2:123456789012:task-definition/etl:7",
			"Cluster":        "arn:aws:ecs:us-east-2:123456789012:cluster/batch",
			"LaunchType":     "fargate",
		},
	})
	if !ok {
		t.Fatalf("expected container task to resolve")
	}
	if res.Kind != KindContainerTask || res.ID != "arn:aws:ecs:us-east-2:123456789012:task-definition/etl:7" {
		t.Fatalf("unexpected resource: %+v", res)
	}
	if res.Link != "https://console.aws.amazon.com/ecs/home?region=us-east-2#/taskDefinitions/etl%3A7" {
		t.Fatalf("unexpected link: %s", res.Link)
	}
	if res.LaunchType != "FARGATE" {
		t.Fatalf("expected launch type FARGATE, got %q", res.LaunchType)
	}

	res, ok = r.Resolve(asl.Task{
		Resource:   "arn:aws:states:::ecs:runTask",
		Parameters: map[string]any{"Cluster": "batch"},
	})
	if !ok || res.ID != "batch" || res.Link != "https://console.aws.amazon.com/ecs/home?region=us-east-1#/clusters/batch/tasks" {
		t.Fatalf("unexpected cluster-only resource: ok=%v %+v", ok, res)
	}

	if _, ok := r.Resolve(asl.Task{Resource: "arn:aws:states:::ecs:runTask"}); ok {
		t.Fatalf("expected task without parameters to be unresolved")
	}
}

func TestChainUsesFirstMatch(t *testing.T) {
	chain := Chain{nil, DefaultResolvers("us-east-1")[0], ResolverFunc(func(asl.Task) (Resource, bool) {
		return Resource{ID: "fallback", Kind: "other"}, true
	})}
	res, ok := chain.Resolve(asl.Task{Resource: "arn:aws:lambda:us-east-1:1:function:f"})
	if !ok || res.Kind != KindFunction {
		t.Fatalf("expected lambda resolver to win, got %+v", res)
	}
	res, ok = chain.Resolve(asl.Task{Resource: "arn:aws:states:::glue:startJobRun"})
	if !ok || res.ID != "fallback" {
		t.Fatalf("expected fallback resolver, got %+v", res)
	}
}

func TestResolveTaskReportsUnresolved(t *testing.T) {
	_, err := ResolveTask(DefaultResolvers("us-east-1"), asl.Task{Resource: "arn:aws:states:::glue:startJobRun"})
	if !errors.Is(err, ErrUnresolvedResource) {
		t.Fatalf("expected unresolved resource, got %v", err)
	}
	if _, err := ResolveTask(nil, asl.Task{Resource: "arn:aws:lambda:us-east-1:1:function:f"}); !errors.Is(err, ErrUnresolvedResource) {
		t.Fatalf("expected nil resolver to resolve nothing, got %v", err)
	}
	res, err := ResolveTask(DefaultResolvers("us-east-1"), asl.Task{Resource: "arn:aws:lambda:us-east-1:1:function:f"})
	if err != nil || res.Kind != KindFunction {
		t.Fatalf("expected function, got %+v / %v", res, err)
	}
}

func TestFunctionName(t *testing.T) {
	cases := map[string]string{
		"arn:aws:lambda:us-east-1:123456789012:function:ingest":       "ingest",
		"arn:aws:lambda:us-east-1:123456789012:function:ingest:$LATEST": "ingest",
		"123456789012:function:ingest":                                  "ingest",
		"ingest:prod":                                                   "ingest",
		"ingest":                                                        "ingest",
	}
	for in, want := range cases {
		if got := FunctionName(in); got != want {
			t.Fatalf("FunctionName(%q) = %q, want %q", in, got, want)
		}
	}
}
