package logger

import "github.com/ideamans/go-l10n"

func init() {
	l10n.Register("ja", l10n.LexiconMap{
		// Orchestration level messages (info)
		"Opening %s": "%s を開いています",
		"Processing %d samples every %d ms from %dx%d %s (%d ms)": "%[3]dx%[4]d %[5]s (%[6]d ms) から %[2]d ms ごとに %[1]d サンプルを処理中",
		"Run completed: %d of %d samples, %d detections in %s":     "処理完了: %[2]d サンプル中 %[1]d 件, 検出 %[3]d 件 (%[4]s)",
		"Decoder repositioned %d times":                             "デコーダーを %d 回シークしました",
		"Seeking disabled: sync samples are %d us or more apart":    "シークを無効化しました: 同期サンプルの間隔が %d us 以上です",

		// Decoder
		"Decoding track %d: %s %dx%d, %d ms":            "トラック %d をデコード: %s %dx%d, %d ms",
		"Decoder output format: %dx%d":                  "デコーダー出力形式: %dx%d",
		"Decoder reached end of stream after %d frames": "デコーダーが %d フレームでストリーム終端に達しました",
		"Decoder seeked to %d us":                       "デコーダーを %d us へシークしました",

		// Encoder
		"Encoder configured: %s %dx%d @ %.2f fps, %d bps": "エンコーダー設定: %s %dx%d @ %.2f fps, %d bps",
		"Encoder output format: %s %dx%d":                  "エンコーダー出力形式: %s %dx%d",
		"Encoder finished: %d frames in, %d samples out":   "エンコーダー完了: 入力 %d フレーム, 出力 %d サンプル",
		"End of stream reached on drain":                   "ドレイン中にストリーム終端に達しました",
		"Starting ffmpeg: %s":                              "ffmpeg を起動: %s",

		// Detection
		"Sample %d: %d detections": "サンプル %d: 検出 %d 件",

		// Output
		"Video encoded: %d frames, %d bytes": "動画エンコード完了: %d フレーム, %d バイト",
		"Writing frames to %s":               "フレームを %s に書き込み中",
		"Stored %d frames in %s":             "%d フレームを %s に保存しました",

		// Warnings
		"Skipping sample %d at %d ms: %v":           "サンプル %d (%d ms) をスキップします: %v",
		"Closing decoder with %d frames still held": "%d フレームを保持したままデコーダーを閉じます",
		"Teardown after failed setup: %v":           "初期化失敗後の後始末: %v",
		"Failed to abort output: %v":                "出力の中止に失敗しました: %v",
		"Failed to close decoder: %v":               "デコーダーのクローズに失敗しました: %v",

		// Errors
		"Failed to open video: %v": "動画を開けませんでした: %v",
	})
}
