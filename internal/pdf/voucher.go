package pdf

import (
	"bytes"
	"fmt"

	"github.com/go-pdf/fpdf"
	"github.com/skip2/go-qrcode"
)

// Voucher é o comprovante de agendamento entregue ao paciente.
type Voucher struct {
	PatientName      string
	Document         string // já mascarado
	Phone            string // já mascarado
	Email            string
	ConsultationType string
	ProfessionalName string
	When             string
	Status           string
	ConfirmationURL  string
}

// QRCodePNG gera o PNG do QR code do link.
func QRCodePNG(content string, size int) ([]byte, error) {
	if content == "" {
		return nil, fmt.Errorf("qrcode: conteúdo vazio")
	}
	return qrcode.Encode(content, qrcode.Medium, size)
}

// BuildVoucherPDF gera o comprovante em A4 com os dados da consulta e o QR code do link de confirmação.
func BuildVoucherPDF(v Voucher) ([]byte, error) {
	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(15, 15, 15)
	pdf.SetAutoPageBreak(true, 15)
	pdf.AddPage()
	tr := pdf.UnicodeTranslatorFromDescriptor("")

	pdf.SetFont("Helvetica", "B", 16)
	pdf.CellFormat(0, 10, tr("Heal.app - Comprovante de agendamento"), "", 1, "L", false, 0, "")
	pdf.Ln(4)

	pdf.SetFont("Helvetica", "", 11)
	rows := [][2]string{
		{"Paciente", v.PatientName},
		{"CPF", v.Document},
		{"Telefone", v.Phone},
		{"E-mail", v.Email},
		{"Tipo de consulta", v.ConsultationType},
		{"Profissional", v.ProfessionalName},
		{"Data/hora", v.When},
		{"Status", v.Status},
	}
	for _, r := range rows {
		pdf.SetFont("Helvetica", "B", 11)
		pdf.CellFormat(45, 7, tr(r[0]+":"), "", 0, "L", false, 0, "")
		pdf.SetFont("Helvetica", "", 11)
		pdf.CellFormat(0, 7, tr(r[1]), "", 1, "L", false, 0, "")
	}

	if v.ConfirmationURL != "" {
		pdf.Ln(6)
		qrPNG, err := QRCodePNG(v.ConfirmationURL, 256)
		if err != nil {
			return nil, err
		}
		alias := "qr-confirmation"
		pdf.RegisterImageReader(alias, "png", bytes.NewReader(qrPNG))
		pdf.Image(alias, 15, pdf.GetY(), 40, 40, false, "", 0, "")
		pdf.SetY(pdf.GetY() + 42)
		pdf.SetFont("Helvetica", "", 9)
		pdf.MultiCell(0, 5, tr("Confirme ou cancele sua presença pelo link: "+v.ConfirmationURL), "", "", false)
	}

	if err := pdf.Error(); err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
