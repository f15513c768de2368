// Package main provides localization for the detectshow CLI.
package main

import (
	"github.com/ideamans/go-l10n"
)

func init() {
	// Register Japanese translations for CLI messages.
	l10n.Register("ja", l10n.LexiconMap{
		// Flag categories
		"Output":    "出力先",
		"Sampling":  "サンプリング",
		"Detection": "検出",
		"Style":     "スタイル",
		"Quality":   "品質",
		"Debug":     "デバッグ",
		"Logging":   "ログ",

		// Root command
		"Annotate pedestrians in videos": "動画内の歩行者を注釈",
		"detectshow samples a video at a fixed interval, runs a detector on each sample and writes the annotated samples as an MP4 video or a JPEG sequence.": "detectshowは動画を一定間隔でサンプリングし、各サンプルで検出を行い、注釈付きのサンプルをMP4動画またはJPEG連番として書き出します。",

		// Commands
		"Write an annotated MP4 video":            "注釈付きMP4動画を書き出す",
		"Write annotated samples as JPEG frames":  "注釈付きサンプルをJPEGフレームとして書き出す",
		"Show version information":                "バージョン情報を表示",
		"detectshow version %s":                   "detectshow バージョン %s",

		// Output flags
		"Output path (default: a temporary location)":        "出力パス（デフォルト: 一時ディレクトリ）",
		"YAML configuration file":                            "YAML設定ファイル",
		"Directory for temporary artifacts":                  "一時ファイルのディレクトリ",
		"Output execution summary to file (Markdown format)": "実行サマリーをファイルに出力（Markdown形式）",

		// Sampling flags
		"Milliseconds between samples (default: 100)":                        "サンプル間隔（ミリ秒、デフォルト: 100）",
		"Seek when the next sample is further ahead in ms (negative disables)": "次のサンプルがこのミリ秒以上先ならシーク（負の値で無効）",

		// Detection flags
		"Replay detections from a YAML fixture":                  "YAMLフィクスチャから検出結果を再生",
		"Minimum detection confidence (0-1)":                     "検出の最小信頼度（0-1）",
		"Maximum detections per sample (0 = unlimited)":          "サンプルあたりの最大検出数（0 = 無制限）",
		"Detector input width":                                   "検出器の入力幅",
		"Detector input height":                                  "検出器の入力高さ",
		"Label for detections without one (default: Pedestrian)": "ラベルのない検出に使うラベル（デフォルト: Pedestrian）",

		// Style flags
		"Box color (hex, e.g., #007AFF)":                          "枠の色（16進数、例: #007AFF）",
		"Label background color (hex with optional alpha)":        "ラベル背景色（16進数、アルファ値は任意）",
		"Label text color (hex)":                                  "ラベル文字色（16進数）",
		"Box stroke width in pixels (default: scaled to the frame)": "枠線の幅（ピクセル、デフォルト: フレームに合わせて調整）",
		"Label font size in pixels (default: scaled to the frame)":  "ラベルの文字サイズ（ピクセル、デフォルト: フレームに合わせて調整）",
		"TrueType font file for labels":                           "ラベル用のTrueTypeフォントファイル",

		// Quality flags
		"Quality preset (low, medium, high)":                  "品質プリセット（low, medium, high）",
		"Path to the ffmpeg executable":                       "ffmpeg実行ファイルのパス",
		"Video bit rate in Mbps (overrides quality preset)":   "動画のビットレート（Mbps、品質プリセットを上書き）",
		"Key frame interval in seconds":                       "キーフレーム間隔（秒）",
		"JPEG quality (1-100, overrides quality preset)":      "JPEG品質（1-100、品質プリセットを上書き）",

		// Debug flags
		"Enable debug output":        "デバッグ出力を有効化",
		"Directory for debug output": "デバッグ出力のディレクトリ",

		// Logging flags
		"Log level (debug, info, warn, error)": "ログレベル（debug, info, warn, error）",
		"Log format (console, text, json)":     "ログ形式（console, text, json）",
		"Suppress all log output":              "全てのログ出力を抑制",

		// Runtime messages
		"Annotating %s (%s output, %s detector)...":    "%s に注釈を付けています（出力: %s, 検出器: %s）...",
		"Output saved to %s":                           "出力を %s に保存しました",
		"Frames saved to %s":                           "フレームを %s に保存しました",
		"Interrupted, shutting down...":                "中断されました。シャットダウン中...",
		"Summary saved to %s":                          "サマリーを %s に保存しました",
		"Failed to write summary: %s":                  "サマリーの書き込みに失敗しました: %s",
		"Exactly one input video argument is required": "入力動画を1つだけ指定してください",
		"Error: %v":                                    "エラー: %v",

		// Summary content
		"Run Summary":        "実行サマリー",
		"Generated":          "生成日時",
		"Source":             "入力",
		"Results":            "実行結果",
		"Settings":           "設定",
		"Item":               "項目",
		"Value":              "値",
		"Input":              "入力ファイル",
		"Codec":              "コーデック",
		"Resolution":         "解像度",
		"Duration":           "再生時間",
		"Frame Rate":         "フレームレート",
		"Samples":            "サンプル数",
		"Processed":          "処理済み",
		"Skipped":            "スキップ",
		"Detections":         "検出数",
		"Average Confidence": "平均信頼度",
		"Elapsed":            "処理時間",
		"Detector":           "検出器",
		"Interval":           "サンプル間隔",
		"Model Input":        "モデル入力",
		"Min Confidence":     "最小信頼度",
		"Max Detections":     "最大検出数",
		"Output Mode":        "出力形式",
		"Frame Directory":    "フレームディレクトリ",
		"Video File":         "動画ファイル",
		"Frame Count":        "フレーム数",
		"Video File Size":    "動画ファイルサイズ",
		"Unlimited":          "無制限",
		"None":               "なし",
		"Generated by":       "生成:",
	})
}
