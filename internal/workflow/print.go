package workflow

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/zulandar/blockyard/internal/printing"
)

// FlowPrint files a 3D print request.
const FlowPrint = "print"

const (
	printFilePrompt    = "Загрузите файл модели для печати (STL или 3MF)."
	printPhotoPrompt   = "Прикрепите фото детали (по желанию) или пропустите."
	printTimePrompt    = "Укажите ожидаемое время печати в минутах (например, 120)."
	printConfirmButton = "✅ Подтвердить"
)

func printFlow() *Flow {
	return newFlow(FlowPrint, "file", true,
		&Step{
			Name:    "file",
			Accepts: AcceptFile,
			Enter:   func(*Ctx) Result { return reprompt(text(printFilePrompt)) },
			Handle: func(c *Ctx, in Input) Result {
				f := in.Files[0]
				if !printing.IsModelFile(f.Name) {
					return reprompt(text("Допустимы только файлы STL или 3MF. Отправьте корректный файл."))
				}
				c.Set("model_file_id", f.ID)
				c.Set("model_filename", f.Name)
				return advance("photo")
			},
		},
		&Step{
			Name:    "photo",
			Accepts: AcceptFile | AcceptChoice | AcceptText,
			Enter:   func(*Ctx) Result { return reprompt(ask(printPhotoPrompt, skipChoices("print:skip"))) },
			Handle: func(c *Ctx, in Input) Result {
				switch {
				case len(in.Files) > 0:
					if !isImage(in.Files[0]) {
						return reprompt(ask("Это не изображение. Прикрепите фото или пропустите.", skipChoices("print:skip")))
					}
					c.Set("photo_file_id", in.Files[0].ID)
				case in.Choice == "print:skip", strings.EqualFold(strings.TrimSpace(in.Text), "пропустить"):
					delete(c.Session.Data, "photo_file_id")
				default:
					return reprompt(ask(printPhotoPrompt, skipChoices("print:skip")))
				}
				return advance("printer")
			},
		},
		textStep("printer", "Укажите название принтера (например: Prusa-MK3 или RA1).", "Название принтера не должно быть пустым.",
			func(c *Ctx, v string) Result {
				c.Set("printer_name", v)
				until, err := printing.MaintenanceUntil(c.DB, v)
				if err != nil {
					return failed(c, "printer", err)
				}
				if until != nil {
					return advanceQuiet("time", text(fmt.Sprintf("Внимание: принтер на обслуживании до %s.\n%s", until.Format(dateLayout), printTimePrompt)))
				}
				return advance("time")
			}),
		textStep("time", printTimePrompt, "Введите положительное число минут, например: 90",
			func(c *Ctx, v string) Result {
				n, err := strconv.Atoi(v)
				if err != nil || n <= 0 {
					return reprompt(text("Введите положительное число минут, например: 90"))
				}
				c.Set("expected_time_min", n)
				return advance("confirm")
			}),
		&Step{
			Name:    "confirm",
			Accepts: AcceptChoice,
			Enter: func(c *Ctx) Result {
				return reprompt(ask(printSummary(c.Session), confirmChoices("print", printConfirmButton)))
			},
			Handle: func(c *Ctx, in Input) Result {
				switch in.Choice {
				case "print:confirm:no":
					return finish(text(MsgCancelled))
				case "print:confirm:yes":
					return commitPrint(c)
				}
				return reprompt(ask(printSummary(c.Session), confirmChoices("print", printConfirmButton)))
			},
		},
	)
}

func isImage(f InputFile) bool {
	if strings.HasPrefix(f.ContentType, "image/") {
		return true
	}
	switch strings.ToLower(filepath.Ext(f.Name)) {
	case ".jpg", ".jpeg", ".png", ".webp", ".heic":
		return true
	}
	return false
}

func printSummary(s *Session) string {
	minutes, _ := s.Int("expected_time_min")
	photo := "нет"
	if s.String("photo_file_id") != "" {
		photo = "есть"
	}
	return strings.Join([]string{
		"Заявка на печать:",
		"Файл: " + s.String("model_filename"),
		"Принтер: " + s.String("printer_name"),
		fmt.Sprintf("Ожидаемое время: %d мин", minutes),
		"Фото: " + photo,
	}, "\n")
}

func commitPrint(c *Ctx) Result {
	s := c.Session
	fileID := s.String("model_file_id")
	minutes, ok := s.Int("expected_time_min")
	if fileID == "" || !ok {
		return finish(text("Файл модели не найден. Начните заново."))
	}
	r, err := c.actor()
	if err != nil {
		return commitFailed(FlowPrint, err)
	}
	job, err := printing.CreateJob(c.DB, printing.JobOpts{
		UserID:          r.UserID,
		PrinterName:     s.String("printer_name"),
		FileID:          fileID,
		Filename:        s.String("model_filename"),
		PhotoFileID:     s.StringPtr("photo_file_id"),
		ExpectedMinutes: minutes,
	})
	if err != nil {
		return commitFailed(FlowPrint, err)
	}
	return finish(text(fmt.Sprintf("Заявка на печать создана (ID: %d). Статус: %s.", job.ID, job.Status)))
}
