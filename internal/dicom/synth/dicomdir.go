package synth

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/tag"
)

const (
	mediaStorageDirectory = "1.2.840.10008.1.3.10"
	mrImageStorage        = "1.2.840.10008.5.1.4.1.1.4"
	explicitVRLittle      = "1.2.840.10008.1.2.1"
	implementationClass   = "1.2.826.0.1.3680043.8.498"
)

type indexedSeries struct {
	uid    string
	number int
	images []indexedImage
}

type indexedImage struct {
	path   string
	sopUID string
}

// writeIndex writes a DICOMDIR listing every image of the study. Record
// offsets are left at zero.
func writeIndex(dir, patient, studyUID string, series []indexedSeries) error {
	records := [][]*dicom.Element{
		directoryRecord("PATIENT",
			mustNewElement(tag.PatientID, []string{sanitize(patient)}),
			mustNewElement(tag.PatientName, []string{patient}),
		),
		directoryRecord("STUDY",
			mustNewElement(tag.StudyInstanceUID, []string{studyUID}),
		),
	}
	for _, s := range series {
		records = append(records, directoryRecord("SERIES",
			mustNewElement(tag.Modality, []string{"MR"}),
			mustNewElement(tag.SeriesInstanceUID, []string{s.uid}),
			mustNewElement(tag.SeriesNumber, []string{fmt.Sprintf("%d", s.number)}),
		))
		for _, img := range s.images {
			rel, err := filepath.Rel(dir, img.path)
			if err != nil {
				return fmt.Errorf("index %s: %w", img.path, err)
			}
			records = append(records, directoryRecord("IMAGE",
				mustNewElement(tag.ReferencedFileID, strings.Split(filepath.ToSlash(rel), "/")),
				mustNewElement(tag.ReferencedSOPClassUIDInFile, []string{mrImageStorage}),
				mustNewElement(tag.ReferencedSOPInstanceUIDInFile, []string{img.sopUID}),
				mustNewElement(tag.ReferencedTransferSyntaxUIDInFile, []string{explicitVRLittle}),
			))
		}
	}

	filesetID := sanitize(filepath.Base(dir))
	if len(filesetID) > 16 {
		filesetID = filesetID[:16]
	}
	ds := dicom.Dataset{Elements: []*dicom.Element{
		mustNewElement(tag.TransferSyntaxUID, []string{explicitVRLittle}),
		mustNewElement(tag.MediaStorageSOPClassUID, []string{mediaStorageDirectory}),
		mustNewElement(tag.MediaStorageSOPInstanceUID, []string{newUID()}),
		mustNewElement(tag.ImplementationClassUID, []string{implementationClass}),
		mustNewElement(tag.FileSetID, []string{filesetID}),
		mustNewElement(tag.OffsetOfTheFirstDirectoryRecordOfTheRootDirectoryEntity, []int{0}),
		mustNewElement(tag.OffsetOfTheLastDirectoryRecordOfTheRootDirectoryEntity, []int{0}),
		mustNewElement(tag.FileSetConsistencyFlag, []int{0}),
		mustNewElement(tag.DirectoryRecordSequence, records),
	}}
	if err := writeDatasetToFile(filepath.Join(dir, "DICOMDIR"), ds); err != nil {
		return fmt.Errorf("write DICOMDIR: %w", err)
	}
	return nil
}

func directoryRecord(recordType string, elements ...*dicom.Element) []*dicom.Element {
	return append([]*dicom.Element{
		mustNewElement(tag.OffsetOfTheNextDirectoryRecord, []int{0}),
		mustNewElement(tag.RecordInUseFlag, []int{0xFFFF}),
		mustNewElement(tag.OffsetOfReferencedLowerLevelDirectoryEntity, []int{0}),
		mustNewElement(tag.DirectoryRecordType, []string{recordType}),
	}, elements...)
}
