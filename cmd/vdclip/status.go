package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"go.klb.dev/vdclip/internal/admin"
)

func newStatusCmd() *cobra.Command {
	v := viper.New()

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show relay health and connected guests",
		Long: `Queries a relay's admin listener (see "vdclip serve --admin-addr"): the gRPC
health service first, then GET /v1/status.`,
		Args:    cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, _ []string) error { return bindViper(cmd, v) },
		RunE:    func(cmd *cobra.Command, _ []string) error { return runStatus(cmd, v) },
	}

	f := cmd.Flags()
	f.String("admin-addr", "localhost:4445", "relay admin address")
	f.Duration("timeout", 5*time.Second, "request timeout")
	f.Bool("json", false, "output raw JSON")
	addConfigFlag(cmd)

	return cmd
}

func runStatus(cmd *cobra.Command, v *viper.Viper) error {
	addr := v.GetString("admin-addr")
	ctx, cancel := context.WithTimeout(cmd.Context(), v.GetDuration("timeout"))
	defer cancel()

	health, err := checkHealth(ctx, addr)
	if err != nil {
		return fmt.Errorf("health: %w", err)
	}
	st, err := fetchStatus(ctx, addr)
	if err != nil {
		return fmt.Errorf("status: %w", err)
	}

	out := cmd.OutOrStdout()
	if v.GetBool("json") {
		b, err := protojson.MarshalOptions{Multiline: true, Indent: "  "}.Marshal(st)
		if err != nil {
			return err
		}
		fmt.Fprintln(out, string(b))
		return nil
	}
	printStatus(out, health, st)
	return nil
}

func checkHealth(ctx context.Context, addr string) (healthpb.HealthCheckResponse_ServingStatus, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return 0, fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{Service: admin.ServiceName})
	if err != nil {
		return 0, err
	}
	return resp.GetStatus(), nil
}

func fetchStatus(ctx context.Context, addr string) (*structpb.Struct, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://"+addr+"/v1/status", nil)
	if err != nil {
		return nil, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s: %s", resp.Status, body)
	}
	st := &structpb.Struct{}
	if err := protojson.Unmarshal(body, st); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	return st, nil
}

func printStatus(out io.Writer, health healthpb.HealthCheckResponse_ServingStatus, st *structpb.Struct) {
	f := st.GetFields()
	clip := f["clipboard"].GetStructValue().GetFields()

	w := tabwriter.NewWriter(out, 1, 0, 2, ' ', 0)
	fmt.Fprintf(w, "Health:\t%s\n", health)
	fmt.Fprintf(w, "Version:\t%s\n", f["version"].GetStringValue())
	fmt.Fprintf(w, "Guests:\t%s\n", f["addr"].GetStringValue())
	fmt.Fprintf(w, "Socket:\t%s\n", f["socket"].GetStringValue())
	fmt.Fprintf(w, "Backend:\t%s\n", f["backend"].GetStringValue())
	fmt.Fprintf(w, "Clipboard:\t%d bytes from %s, %s\n",
		int(clip["size"].GetNumberValue()),
		clip["source"].GetStringValue(),
		fmtAge(clip["updated_at"].GetStringValue()),
	)
	fmt.Fprintln(w)
	_ = w.Flush()

	peers := f["peers"].GetListValue().GetValues()
	if len(peers) == 0 {
		fmt.Fprintln(out, "No guests connected.")
		return
	}

	tw := tabwriter.NewWriter(out, 1, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(tw, "ID\tADDR\tCAPS\tCONNECTED\tLAST SEEN\n")
	_, _ = fmt.Fprintf(tw, "--\t----\t----\t---------\t---------\n")
	for _, pv := range peers {
		p := pv.GetStructValue().GetFields()
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			shortID(p["id"].GetStringValue()),
			p["addr"].GetStringValue(),
			p["caps"].GetStringValue(),
			fmtAge(p["connected_at"].GetStringValue()),
			fmtAge(p["last_seen"].GetStringValue()),
		)
	}
	_ = tw.Flush()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func fmtAge(ts string) string {
	t, err := time.Parse(time.RFC3339, ts)
	if err != nil {
		return "-"
	}
	age := time.Since(t).Round(time.Second)
	if age < time.Minute {
		return fmt.Sprintf("%ds ago", int(age.Seconds()))
	}
	if age < time.Hour {
		return fmt.Sprintf("%dm ago", int(age.Minutes()))
	}
	return t.Local().Format("15:04:05")
}
