package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"miu200521358/vmd_export_t4/pkg/domain"
	"miu200521358/vmd_export_t4/pkg/usecase"

	"github.com/miu200521358/mlib_go/pkg/config/mlog"
	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "vmd_export",
	Short: "VMDモーションを学習用特徴量ファイルにエクスポートします",
	Long: `PMXモデルとVMDモーションの組から、モーション補間学習用の
Input/Output特徴量ファイルと正規化統計・シーケンス台帳を出力します。`,
}

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "設定ファイルに従って全セットをエクスポートします",
	RunE:  runExport,
}

func init() {
	rootCmd.AddCommand(exportCmd)
	exportCmd.Flags().StringVar(&configPath, "config", "export.yaml", "エクスポート設定ファイル")
}

func runExport(cmd *cobra.Command, args []string) error {
	conf, err := domain.LoadExportConfig(configPath)
	if err != nil {
		return err
	}

	state := domain.NewExportState(conf)

	// Ctrl+C で協調的に中断する。仕掛かり分は排出してから終了する。
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		mlog.W("中断要求を受け付けました")
		state.Terminate()
	}()

	state.LoadSetsAsync()

	if err := usecase.NewExportUsecase().Exec(state); err != nil {
		mlog.E("エクスポートに失敗しました: %s", err.Error())
		return err
	}

	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
