package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/elbv2"
	"github.com/aws/aws-sdk-go/service/elbv2/elbv2iface"
)

// SLB is a Gateway backed by a cloud load balancer's target group (AWS ELBv2
// in this deployment; any elbv2iface.ELBV2API implementation works, which
// keeps this adapter testable without real AWS credentials).
type SLB struct {
	client         elbv2iface.ELBV2API
	targetGroupARN string
	logger         *slog.Logger
}

// NewSLB builds an SLB gateway using the default AWS session/credential
// chain against the given target group.
func NewSLB(targetGroupARN string, logger *slog.Logger) (*SLB, error) {
	sess, err := session.NewSessionWithOptions(session.Options{SharedConfigState: session.SharedConfigEnable})
	if err != nil {
		return nil, fmt.Errorf("slb gateway: new session: %w", err)
	}
	return &SLB{client: elbv2.New(sess), targetGroupARN: targetGroupARN, logger: logger}, nil
}

// NewSLBWithClient builds an SLB gateway over a caller-supplied client,
// primarily for tests.
func NewSLBWithClient(client elbv2iface.ELBV2API, targetGroupARN string, logger *slog.Logger) *SLB {
	return &SLB{client: client, targetGroupARN: targetGroupARN, logger: logger}
}

func splitHostPort(host string) (*elbv2.TargetDescription, error) {
	parts := strings.SplitN(host, ":", 2)
	td := &elbv2.TargetDescription{Id: aws.String(parts[0])}
	if len(parts) == 2 {
		port, err := strconv.Atoi(parts[1])
		if err != nil {
			return nil, fmt.Errorf("slb gateway: invalid host %q: %w", host, err)
		}
		td.Port = aws.Int64(int64(port))
	}
	return td, nil
}

func (g *SLB) GetServers(ctx context.Context) (map[string]struct{}, error) {
	out, err := g.client.DescribeTargetHealthWithContext(ctx, &elbv2.DescribeTargetHealthInput{
		TargetGroupArn: aws.String(g.targetGroupARN),
	})
	if err != nil {
		return nil, fmt.Errorf("slb gateway: describe target health: %w", err)
	}

	servers := make(map[string]struct{}, len(out.TargetHealthDescriptions))
	for _, desc := range out.TargetHealthDescriptions {
		if desc.Target == nil || desc.Target.Id == nil {
			continue
		}
		host := aws.StringValue(desc.Target.Id)
		if desc.Target.Port != nil {
			host = fmt.Sprintf("%s:%d", host, aws.Int64Value(desc.Target.Port))
		}
		servers[host] = struct{}{}
	}
	return servers, nil
}

func (g *SLB) Offline(ctx context.Context, host string) error {
	target, err := splitHostPort(host)
	if err != nil {
		return err
	}
	_, err = g.client.DeregisterTargetsWithContext(ctx, &elbv2.DeregisterTargetsInput{
		TargetGroupArn: aws.String(g.targetGroupARN),
		Targets:        []*elbv2.TargetDescription{target},
	})
	if err != nil {
		return fmt.Errorf("slb gateway: deregister %s: %w", host, err)
	}
	return nil
}

func (g *SLB) Online(ctx context.Context, host string) error {
	target, err := splitHostPort(host)
	if err != nil {
		return err
	}
	_, err = g.client.RegisterTargetsWithContext(ctx, &elbv2.RegisterTargetsInput{
		TargetGroupArn: aws.String(g.targetGroupARN),
		Targets:        []*elbv2.TargetDescription{target},
	})
	if err != nil {
		return fmt.Errorf("slb gateway: register %s: %w", host, err)
	}
	return nil
}
